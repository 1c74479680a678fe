package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dawitel/easy-webhook/authorization"
	"github.com/dawitel/easy-webhook/base62"
	"github.com/dawitel/easy-webhook/hasher"
	"github.com/dawitel/easy-webhook/invariant"
	"github.com/spf13/cobra"
)

var errMismatch = errors.New("authorization does not match")

type signerFlags struct {
	key          string
	hasher       string
	alphabet     string
	requireNonce bool
}

func (f *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.key, "key", "k", "", "Signing key (defaults to $WEBHOOK_SIGNING_KEY)")
	cmd.Flags().StringVar(&f.hasher, "hasher", string(hasher.DefaultAlgorithm), "Keyed hash: hmac-sha256, hmac-sha512, hmac-sha3-256, blake3")
	cmd.Flags().StringVar(&f.alphabet, "alphabet", "default", "Base62 alphabet: default or inverted")
	cmd.Flags().BoolVar(&f.requireNonce, "require-nonce", false, "Fail when the invariant has no nonce")
}

func (f *signerFlags) build() (*authorization.Signer, []byte, error) {
	key := f.key
	if key == "" {
		key = os.Getenv("WEBHOOK_SIGNING_KEY")
	}
	if key == "" {
		return nil, nil, authorization.ErrMissingKey
	}

	h, err := hasher.Parse(f.hasher)
	if err != nil {
		return nil, nil, err
	}
	alphabet, err := base62.AlphabetByName(f.alphabet)
	if err != nil {
		return nil, nil, err
	}

	signer := authorization.NewSigner(h,
		authorization.WithAlphabet(alphabet),
		authorization.WithRequiredNonce(f.requireNonce),
	)
	return signer, []byte(key), nil
}

func signCmd() *cobra.Command {
	var flags signerFlags

	cmd := &cobra.Command{
		Use:   "sign [invariant.json]",
		Short: "Compute the authorization and complement for an invariant",
		Long:  "Reads an invariant document (from a file or stdin when the path is '-' or omitted) and prints the signed header as JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, key, err := flags.build()
			if err != nil {
				return err
			}
			defer hasher.Zero(key)

			inv, err := readInvariant(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			header, err := signer.Create(key, inv)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(header)
		},
	}

	flags.register(cmd)
	return cmd
}

func verifyCmd() *cobra.Command {
	var flags signerFlags
	var token, complement string

	cmd := &cobra.Command{
		Use:   "verify [invariant.json]",
		Short: "Check a received authorization against an invariant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, key, err := flags.build()
			if err != nil {
				return err
			}
			defer hasher.Zero(key)

			inv, err := readInvariant(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			ok, err := signer.Validate(key, inv, token, complement)
			if err != nil {
				return err
			}
			if !ok {
				return errMismatch
			}

			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&token, "authorization", "a", "", "Authorization header value")
	cmd.Flags().StringVarP(&complement, "complement", "c", "", "Complement query value")
	_ = cmd.MarkFlagRequired("authorization")

	return cmd
}

func readInvariant(stdin io.Reader, args []string) (invariant.Invariant, error) {
	var inv invariant.Invariant

	var r io.Reader = stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return inv, fmt.Errorf("failed to open invariant: %w", err)
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(&inv); err != nil {
		return inv, fmt.Errorf("failed to decode invariant: %w", err)
	}
	return inv, nil
}
