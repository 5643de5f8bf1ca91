// Command custodian performs the one-time platform key ceremony and share
// tooling: generating the master key components, splitting the custodian
// half into shares for distribution, verifying shares, and storing the
// vault half in the component store.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/eatyourpeas/checktick-keycore/cmd/flags"
	"github.com/eatyourpeas/checktick-keycore/cryptoutils"
	"github.com/eatyourpeas/checktick-keycore/shamir"
	"github.com/eatyourpeas/checktick-keycore/storage"
)

const componentSize = 64

var thresholdFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 3,
	Usage: "number of shares required to reconstruct the custodian component",
}
var totalFlag = &cli.IntFlag{
	Name:  "total",
	Value: 4,
	Usage: "total number of shares to generate",
}
var secretSizeFlag = &cli.IntFlag{
	Name:  "secret-size",
	Value: componentSize,
	Usage: "byte length of the split secret, needed when reconstructing from wire shares",
}

func main() {
	app := &cli.App{
		Name:  "custodian",
		Usage: "Platform master key ceremony and custodian share tooling",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "generate master key components, print custodian shares, store the vault half",
				Flags: append([]cli.Flag{
					thresholdFlag,
					totalFlag,
					flags.VaultAddrFlag,
					flags.VaultTokenFlag,
					flags.VaultMountFlag,
					flags.VaultPathFlag,
					flags.VaultComponentFlag,
				}, flags.CommonFlags...),
				Action: runInit,
			},
			{
				Name:      "reconstruct",
				Usage:     "reconstruct the custodian component from shares passed as arguments",
				ArgsUsage: "<share> <share> ...",
				Flags:     append([]cli.Flag{thresholdFlag, secretSizeFlag}, flags.CommonFlags...),
				Action:    runReconstruct,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runInit(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	vaultAddr := cCtx.String(flags.VaultAddrFlag.Name)
	if vaultAddr == "" {
		return fmt.Errorf("--%s is required: the vault half must be stored before shares are distributed", flags.VaultAddrFlag.Name)
	}

	components, err := storage.NewVaultComponentStore(
		vaultAddr,
		cCtx.String(flags.VaultTokenFlag.Name),
		cCtx.String(flags.VaultMountFlag.Name),
		cCtx.String(flags.VaultPathFlag.Name),
		logger,
	)
	if err != nil {
		return err
	}

	// The platform master key is the XOR of the two halves. Generate the
	// key and the vault half; the custodian half follows, so neither half
	// alone says anything about the key.
	platformKey, err := cryptoutils.RandomBytes(componentSize)
	if err != nil {
		return err
	}
	defer cryptoutils.WipeBytes(platformKey)

	vaultComponent, err := cryptoutils.RandomBytes(componentSize)
	if err != nil {
		return err
	}
	defer cryptoutils.WipeBytes(vaultComponent)

	custodianComponent, err := cryptoutils.XORBytes(platformKey, vaultComponent)
	if err != nil {
		return err
	}
	defer cryptoutils.WipeBytes(custodianComponent)

	shares, err := shamir.Split(custodianComponent, cCtx.Int(thresholdFlag.Name), cCtx.Int(totalFlag.Name))
	if err != nil {
		return err
	}

	componentPath := cCtx.String(flags.VaultComponentFlag.Name)
	if err := components.Put(context.Background(), componentPath, vaultComponent); err != nil {
		return err
	}
	logger.Info("Stored vault component", "path", componentPath)

	keyHash, err := cryptoutils.NewKeyHash(platformKey)
	if err != nil {
		return err
	}

	fmt.Println("Platform key ceremony complete.")
	fmt.Printf("Key verification record (store with the hierarchy metadata):\n")
	fmt.Printf("  digest: %s\n", base64.StdEncoding.EncodeToString(keyHash.Digest))
	fmt.Printf("  salt:   %s\n", base64.StdEncoding.EncodeToString(keyHash.Salt))
	fmt.Printf("\nGeneration tag: %s (record alongside the shares)\n", shares[0].Generation)
	fmt.Printf("\nDistribute one share to each custodian. Shares are never stored together.\n\n")
	for _, share := range shares {
		fmt.Println(share.String())
	}
	return nil
}

func runReconstruct(cCtx *cli.Context) error {
	if cCtx.NArg() == 0 {
		return fmt.Errorf("no shares supplied")
	}

	shares := make([]shamir.Share, 0, cCtx.NArg())
	for _, raw := range cCtx.Args().Slice() {
		share, err := shamir.ParseShare(raw)
		if err != nil {
			return err
		}
		shares = append(shares, share)
	}

	secret, err := shamir.ReconstructWithParams(shares, shamir.Params{
		Threshold:  cCtx.Int(thresholdFlag.Name),
		SecretSize: cCtx.Int(secretSizeFlag.Name),
	})
	if err != nil {
		return err
	}
	defer cryptoutils.WipeBytes(secret)

	// Printed for the operator running a recovery; never logged.
	fmt.Println(base64.StdEncoding.EncodeToString(secret))
	return nil
}
