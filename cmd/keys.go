package cmd

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log"

	"github.com/frahmantamala/ssoflow/internal/oidc"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Signing key helpers",
}

var generateKeysCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an RSA signing key pair",
	Long:  `Print a new RSA key pair as base64 encoded PEM, ready for security.jwt_private_key and security.jwt_public_key.`,
	Run: func(cmd *cobra.Command, args []string) {
		key, err := oidc.GenerateKey()
		if err != nil {
			log.Fatalf("failed to generate key: %v", err)
		}
		pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			log.Fatalf("failed to encode public key: %v", err)
		}
		privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
		pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})

		fmt.Printf("jwt_private_key: %s\n", base64.StdEncoding.EncodeToString(privPEM))
		fmt.Printf("jwt_public_key: %s\n", base64.StdEncoding.EncodeToString(pubPEM))
		fmt.Printf("# kid: %s\n", oidc.Thumbprint(&key.PublicKey))
	},
}

func init() {
	keysCmd.AddCommand(generateKeysCmd)
	rootCmd.AddCommand(keysCmd)
}
