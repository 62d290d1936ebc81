// Command credtool writes an encrypted brokerage credentials file that
// equitybot reads through broker.credentials_path.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/alanyoungcy/equitybot/internal/crypto"
)

func main() {
	out := flag.String("out", "credentials.json", "path of the encrypted credentials file")
	key := flag.String("key", os.Getenv("APCA_API_KEY_ID"), "API key id")
	secret := flag.String("secret", os.Getenv("APCA_API_SECRET_KEY"), "API secret key")
	password := flag.String("password", os.Getenv("EQUITYBOT_BROKER_CREDENTIALS_PASSWORD"), "password used to encrypt the file")
	verify := flag.Bool("verify", false, "decrypt an existing file instead of writing one")
	flag.Parse()

	if err := run(*out, *key, *secret, *password, *verify); err != nil {
		fmt.Fprintf(os.Stderr, "credtool: %v\n", err)
		os.Exit(1)
	}
}

func run(path, key, secret, password string, verify bool) error {
	if password == "" {
		return fmt.Errorf("a password is required")
	}

	if verify {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		creds, err := crypto.Open(data, password)
		if err != nil {
			return err
		}
		fmt.Printf("%s: ok, key id %s\n", path, mask(creds.APIKey))
		return nil
	}

	creds := crypto.Credentials{APIKey: key, APISecret: secret}
	if !creds.Valid() {
		return fmt.Errorf("both -key and -secret are required")
	}
	data, err := crypto.Seal(creds, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
