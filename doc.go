/*
Package ddns keeps one DNS name pointed at the host's current public addresses.

Usage will always start with [ddns.New],
which returns a [Reconciler] for a [Config] naming the domain, the record and the provider API key.
Each call to [Reconciler.Reconcile] is one reconciliation pass:
the public IPv4 and IPv6 addresses are resolved with an [AddressResolver],
the current A and AAAA records are read from a [RecordStore],
and a record is only written when its value differs from the resolved address.

The families are independent.
A failure to resolve or update one family is reported in that family's [Outcome] and never blocks the other,
while an authentication failure aborts the whole pass.
Additional options are listed in the docs for New.
*/
package ddns
