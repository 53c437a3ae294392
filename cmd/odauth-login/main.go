// odauth-login signs into OneDrive from a terminal and prints the
// access token. The provider redirect lands on a loopback listener; if
// no browser can reach it, paste the full redirect URL on stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hlomzik/onedrive-auth/loopback"
	"github.com/hlomzik/onedrive-auth/odauth"
	"github.com/hlomzik/onedrive-auth/tokencache"
)

const defaultScopes = "onedrive.readonly wl.signin"

func main() {
	// A .env file is optional, real environment variables win.
	_ = godotenv.Load()

	clientID := os.Getenv("ODAUTH_CLIENT_ID")
	if clientID == "" {
		fmt.Fprintf(os.Stderr, "usage: %s\n\nset ODAUTH_CLIENT_ID to your app's client id (a .env file works too);\nODAUTH_SCOPES and ODAUTH_CACHE_DIR are optional\n", os.Args[0])
		os.Exit(1)
	}
	scopes := os.Getenv("ODAUTH_SCOPES")
	if scopes == "" {
		scopes = defaultScopes
	}
	cacheDir := os.Getenv("ODAUTH_CACHE_DIR")
	if cacheDir == "" {
		if base, err := os.UserCacheDir(); err == nil {
			cacheDir = filepath.Join(base, "onedrive-auth")
		}
	}

	env, err := loopback.NewEnv(clientID, loopback.Config{
		Cache: tokencache.BestCache(cacheDir),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting callback listener: %v\n", err)
		os.Exit(1)
	}
	defer env.Close()

	client, err := odauth.New(odauth.Config{
		ClientID:    clientID,
		Scopes:      scopes,
		RedirectURI: env.RedirectURI(),
	}, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st, flow, err := client.AuthFlow(ctx, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting authorization: %v\n", err)
		os.Exit(1)
	}

	if st == odauth.StatusPending {
		fmt.Printf("Waiting for sign-in, callback on %s\n", env.RedirectURI())
		fmt.Println("If no browser window opened, sign in there and paste the redirect URL here.")

		go func() {
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				if err := env.HandleRedirect(line); err != nil {
					fmt.Fprintf(os.Stderr, "could not use that URL: %v\n", err)
				}
			}
		}()
	}

	tok, err := flow.Wait(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authorization failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("access token: %s\n", tok.AccessToken)
	fmt.Printf("expires: %s\n", tok.Expiry.Local().Format(time.RFC3339))
}
