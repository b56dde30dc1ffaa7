package main

import (
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"geoportal/pkg/api"
	"geoportal/pkg/ingest"
)

//go:embed public_html/*
var content embed.FS

// CompileVersion is stamped at build time via -ldflags.
var CompileVersion = "dev"

var domain = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
var port = flag.Int("port", 8765, "Port for running the server")
var version = flag.Bool("version", false, "Show the application version")
var defaultLat = flag.Float64("default-lat", -6.2088, "Default map latitude")
var defaultLon = flag.Float64("default-lon", 106.8456, "Default map longitude")
var defaultZoom = flag.Int("default-zoom", 10, "Default map zoom")
var defaultLayer = flag.String("default-layer", "OpenStreetMap", `Default base layer: "OpenStreetMap", "CartoDB Positron" or "Stamen Terrain"`)
var uploadCooldown = flag.Duration("upload-cooldown", 2*time.Second, "Minimum pause between uploads from one client address")

// withServerHeader wraps any http.Handler, adding the
// "Server: geoportal/<CompileVersion>" header.
//
// A HEAD request to "/" answers 200 OK with no body so health checks
// can see the service is alive.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "geoportal/"+CompileVersion)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs:
//   - :80  — ACME HTTP-01 + 301-redirect to https://<domain>/…
//   - :443 — HTTPS with automatic Let's Encrypt certificates.
//
// If autocert cannot issue a cert for a host/SNI, the server still
// serves a previously obtained fallback cert instead of dropping the
// handshake. All errors are only logged.
func serveWithDomain(domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			// Allow the bare domain and www.<domain>.
			if host == domain || host == "www."+domain {
				return nil
			}
			// IP address? Don't block, just don't request a cert.
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	// :80 — challenge + redirect.
	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + domain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})

		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			log.Printf("HTTP  server error: %v", err)
		}
	}()

	// Daily certificate renewal check.
	go func() {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for range t.C {
			if _, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
				log.Printf("autocert renewal check: %v", err)
			}
		}
	}()

	// :443 — HTTPS.
	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS10
	tlsCfg.NextProtos = append([]string{"http/1.0"}, tlsCfg.NextProtos...)

	// Fallback certificate for IPs / odd SNI values.
	var defaultCert *tls.Certificate
	go func() {
		for defaultCert == nil {
			if c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err == nil {
				defaultCert = c
			}
			time.Sleep(time.Minute)
		}
	}()
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if defaultCert != nil {
			return defaultCert, nil
		}
		return nil, err
	}

	log.Printf("HTTPS server for %s ➜ :443 (TLS ≥1.0, ALPN h2/http1.1/1.0)", domain)
	if err := (&http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}).ListenAndServeTLS("", ""); err != nil {
		log.Printf("HTTPS server error: %v", err)
	}
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("geoportal version %s\n", CompileVersion)
		return
	}

	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	handler := api.NewHandler(ingest.New(), content, log.Printf)
	handler.Version = CompileVersion
	handler.DefaultLat = *defaultLat
	handler.DefaultLon = *defaultLon
	handler.DefaultZoom = *defaultZoom
	handler.DefaultLayer = *defaultLayer
	handler.Limiter = api.NewUploadLimiter(*uploadCooldown)

	mux := http.NewServeMux()
	handler.Register(mux)
	rootHandler := withServerHeader(mux)

	if *domain != "" {
		// Dual server :80 + :443 with Let's Encrypt.
		serveWithDomain(*domain, rootHandler)
		return
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("HTTP server ➜ http://localhost%s", addr)
	if err := http.ListenAndServe(addr, rootHandler); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
