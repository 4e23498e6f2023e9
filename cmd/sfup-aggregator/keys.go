package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sfup/sfup/csprng"
	"github.com/sfup/sfup/evidence"
	"github.com/sfup/sfup/keyprovider"
	"github.com/sfup/sfup/n2he"
	"github.com/spf13/cobra"
)

// openKeyProvider wires up the same local file back-end runServe uses,
// so `keys` subcommands see exactly the key inventory the aggregator
// would load on startup.
func openKeyProvider() (*keyprovider.LocalFileProvider, *evidence.Log, error) {
	evLog, err := openEvidenceLog()
	if err != nil {
		return nil, nil, fmt.Errorf("open evidence log: %w", err)
	}
	gen, err := csprng.NewGenerator()
	if err != nil {
		evLog.Close()
		return nil, nil, fmt.Errorf("init csprng: %w", err)
	}
	var masterKey [32]byte
	kp, err := keyprovider.NewLocalFileProvider(keysDir(), masterKey, gen, evLog)
	if err != nil {
		evLog.Close()
		return nil, nil, fmt.Errorf("open key provider: %w", err)
	}
	return kp, evLog, nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	kp, evLog, err := openKeyProvider()
	if err != nil {
		return err
	}
	defer evLog.Close()

	events, err := evLog.QueryByType("key_registered")
	if err != nil {
		return fmt.Errorf("scan evidence log: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("no keys registered")
		return nil
	}
	for _, ev := range events {
		var payload struct {
			KeyID string `json:"key_id"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		rec, err := kp.Lookup(payload.KeyID)
		if err != nil {
			continue
		}
		fmt.Printf("%-24s %-10s created=%d activated=%d\n", rec.KeyID, rec.State, rec.CreatedAtMs, rec.ActivatedAtMs)
	}
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	kp, evLog, err := openKeyProvider()
	if err != nil {
		return err
	}
	defer evLog.Close()

	keyID := args[0]
	if err := kp.Revoke(keyID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("revoke %s: %w", keyID, err)
	}
	fmt.Printf("revoked %s\n", keyID)
	return nil
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	kp, evLog, err := openKeyProvider()
	if err != nil {
		return err
	}
	defer evLog.Close()

	level := n2he.Security128
	if level192, _ := cmd.Flags().GetBool("security-192"); level192 {
		level = n2he.Security192
	}
	params, err := n2he.DefaultParams(level)
	if err != nil {
		return err
	}

	keyID := ""
	if len(args) > 0 {
		keyID = args[0]
	} else {
		keyID = "key-" + uuid.NewString()
	}
	rec, err := kp.Generate(keyID, params, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("generate %s: %w", keyID, err)
	}
	fmt.Printf("registered %s in state %s\n", rec.KeyID, rec.State)
	return nil
}

func runKeysActivate(cmd *cobra.Command, args []string) error {
	kp, evLog, err := openKeyProvider()
	if err != nil {
		return err
	}
	defer evLog.Close()

	keyID := args[0]
	if err := kp.Activate(keyID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("activate %s: %w", keyID, err)
	}
	fmt.Printf("activated %s\n", keyID)
	return nil
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	kp, evLog, err := openKeyProvider()
	if err != nil {
		return err
	}
	defer evLog.Close()

	oldKeyID, newKeyID := args[0], args[1]
	if err := kp.Rotate(oldKeyID, newKeyID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("rotate %s -> %s: %w", oldKeyID, newKeyID, err)
	}
	fmt.Printf("rotated: %s activated, %s expired\n", newKeyID, oldKeyID)
	return nil
}
