package ddns_test

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"os"
	"time"

	"github.com/Travis-Britz/livedns-ddns"
)

func ExampleNew() {
	r, err := ddns.New(ddns.Config{
		APIKey:     os.Getenv("GANDI_API_KEY"),
		Domain:     "example.com",
		RecordName: "home",
	})
	if err != nil {
		log.Fatalf("error creating ddns client: %s", err)
	}
	// run once:
	res, err := r.Reconcile(context.Background())
	if err != nil {
		log.Fatalf("ddns update aborted: %s", err)
	}
	for _, o := range []ddns.Outcome{res.IPv4, res.IPv6} {
		fmt.Println(o.Family, o.Action, o.Address)
	}
}

func ExampleWebResolver() {
	// I'm not vouching for these services, but they do return the IP of the client connection.
	// If possible, run your own and provide the URL here instead.
	wr, err := ddns.WebResolver(
		"https://api64.ipify.org?format=json",
		"https://icanhazip.com/", // operated by Cloudflare since ~2021
		"https://ifconfig.co/ip",
	)
	if err != nil {
		log.Fatal(err)
	}
	r, err := ddns.New(ddns.Config{
		APIKey:     os.Getenv("GANDI_API_KEY"),
		Domain:     "example.com",
		RecordName: "home",
	}, ddns.UsingResolver(wr))
	if err != nil {
		log.Fatalf("error creating ddns client: %s", err)
	}
	if _, err := r.Reconcile(context.Background()); err != nil {
		log.Fatalf("ddns update aborted: %s", err)
	}
}

func ExampleRunDaemon() {
	r, err := ddns.New(ddns.Config{
		APIKey:     os.Getenv("GANDI_API_KEY"),
		Domain:     "example.com",
		RecordName: "home",
	})
	if err != nil {
		log.Fatalf("error creating ddns client: %s", err)
	}

	// run every 5 minutes and stop after an hour:
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Hour)
	defer cancel()
	done := ddns.RunDaemon(ctx, r, 5*time.Minute, func(res ddns.Result, err error) {
		if err != nil || !res.Succeeded() {
			log.Printf("pass failed: %v %v", err, res.Failures())
		}
	})
	<-done
}

func ExampleInterfaceResolver() {
	r, err := ddns.New(ddns.Config{
		APIKey:     os.Getenv("GANDI_API_KEY"),
		Domain:     "example.com",
		RecordName: "server",
	},
		ddns.UsingResolver(ddns.InterfaceResolver("eth0", "wlan0")),
		ddns.WithFamilies(ddns.IPv6),
	)
	if err != nil {
		log.Fatalf("error creating ddns client: %s", err)
	}
	if _, err := r.Reconcile(context.Background()); err != nil {
		log.Fatalf("ddns update aborted: %s", err)
	}
}

func ExampleFallback() {
	r, err := ddns.New(ddns.Config{
		APIKey:     os.Getenv("CLOUDFLARE_API_TOKEN"),
		Domain:     "example.com",
		RecordName: "home",
	},
		ddns.UsingCloudflare(),
		ddns.UsingResolver(ddns.Fallback(ddns.OpenDNSResolver(), ddns.DefaultResolver)),
	)
	if err != nil {
		log.Fatalf("error creating ddns client: %s", err)
	}
	if _, err := r.Reconcile(context.Background()); err != nil {
		log.Fatalf("ddns update aborted: %s", err)
	}
}

func ExampleResolverFunc() {
	fn := func(ctx context.Context, f ddns.Family) (netip.Addr, error) {
		select {
		case <-ctx.Done():
			return netip.Addr{}, ctx.Err()
		case <-time.After(100 * time.Millisecond): // simulating some lookup method
			if f == ddns.IPv6 {
				return netip.ParseAddr("2001:db8::10")
			}
			return netip.ParseAddr("192.0.2.10")
		}
	}
	r, err := ddns.New(ddns.Config{
		APIKey:     os.Getenv("GANDI_API_KEY"),
		Domain:     "example.com",
		RecordName: "home",
	}, ddns.UsingResolver(ddns.ResolverFunc(fn)))
	if err != nil {
		log.Fatalf("error creating ddns client: %s", err)
	}
	if _, err := r.Reconcile(context.Background()); err != nil {
		log.Fatalf("ddns update aborted: %s", err)
	}
}
