// Command fleet-keygen generates the RSA key pairs used to seal traffic
// between the controller and node agents. The controller keeps its private
// key and the node public key; each node agent gets the node private key and
// the controller public key.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hallvard/fleet/internal/crypto"
)

func main() {
	outDir := flag.String("out", "keys", "Directory to write key files into")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", *outDir, err)
		os.Exit(1)
	}

	for _, name := range []string{"controller", "node"} {
		privPath := filepath.Join(*outDir, name+".pem")
		pubPath := filepath.Join(*outDir, name+".pub.pem")
		if _, err := os.Stat(privPath); err == nil {
			fmt.Fprintf(os.Stderr, "%s already exists, refusing to overwrite\n", privPath)
			os.Exit(1)
		}

		key, err := crypto.GenerateKeyPair()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate %s key pair: %v\n", name, err)
			os.Exit(1)
		}
		if err := crypto.WritePrivateKey(privPath, key); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", privPath, err)
			os.Exit(1)
		}
		if err := crypto.WritePublicKey(pubPath, &key.PublicKey); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", pubPath, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s and %s\n", privPath, pubPath)
	}
}
