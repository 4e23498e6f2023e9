package main

import (
	"fmt"
	"time"

	"github.com/sfup/sfup/aggregator"
	"github.com/sfup/sfup/csprng"
	"github.com/sfup/sfup/envelope"
	"github.com/sfup/sfup/keyprovider"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runServe opens the evidence log and key store, starts an aggregator
// bound to the configured envelope, and opens one round, logging its
// initial state right away and then blocking until interrupted.
// Wiring a package transport (how worker submissions actually arrive)
// is deployment-specific and out of this CLI's scope; this command
// demonstrates the aggregator's own lifecycle in isolation.
func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	env, err := loadEnvelope(envelopePath())
	if err != nil {
		return fmt.Errorf("load envelope: %w", err)
	}
	handle := envelope.NewHandle(env, nil)

	evLog, err := openEvidenceLog()
	if err != nil {
		return fmt.Errorf("open evidence log: %w", err)
	}
	defer evLog.Close()

	gen, err := csprng.NewGenerator()
	if err != nil {
		return fmt.Errorf("init csprng: %w", err)
	}

	var masterKey [32]byte
	kp, err := keyprovider.NewLocalFileProvider(keysDir(), masterKey, gen, evLog)
	if err != nil {
		return fmt.Errorf("open key provider: %w", err)
	}

	agg := aggregator.New(handle, logger)

	quorum, err := cmd.Flags().GetInt("quorum")
	if err != nil {
		return err
	}
	backlog, err := cmd.Flags().GetInt("backlog")
	if err != nil {
		return err
	}
	if quorum > 0 {
		env.QuorumThreshold = quorum
	}

	r, err := agg.StartRound(1, backlog)
	if err != nil {
		return fmt.Errorf("start round: %w", err)
	}

	logger.Info("aggregator serving",
		zap.Uint64("round", 1),
		zap.Int("quorum_threshold", env.QuorumThreshold),
		zap.Int("backlog_cap", backlog),
		zap.String("state", string(r.State())),
	)
	_, _ = evLog.Append("round_opened", 1, "", time.Now().UnixMilli(), map[string]int{"quorum_threshold": env.QuorumThreshold})

	if rec, err := kp.Lookup("key-1"); err == nil {
		logger.Info("active signing key", zap.String("key_id", rec.KeyID), zap.String("state", string(rec.State)))
	} else {
		logger.Warn("no key-1 registered yet; run `keys generate key-1` first", zap.Error(err))
	}

	fmt.Printf("round 1 opened, waiting for %d workers (Ctrl-C to stop)\n", env.QuorumThreshold)
	select {}
}
