package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"crypto-market/internal/engine"
	"crypto-market/pkg/config"
	"crypto-market/pkg/i18n"
)

// instrumentAdder is the part of engine.Service seeding needs.
type instrumentAdder interface {
	ListInstruments(ctx context.Context) ([]engine.Instrument, error)
	AddInstrument(ctx context.Context, name string, purchaseCost, saleCost int64) error
}

func seedFromFile(ctx context.Context, svc instrumentAdder, path string, log logrus.FieldLogger) error {
	seed, err := config.LoadSeed(path)
	if err != nil {
		log.Errorf(i18n.Get("SeedLoadFailed"), path, err)
		return err
	}
	_, _, err = seedInstruments(ctx, svc, seed, log)
	return err
}

// seedInstruments adds every seed entry whose name is not listed yet and
// reports how many were added and skipped.
func seedInstruments(ctx context.Context, svc instrumentAdder, seed []config.SeedInstrument, log logrus.FieldLogger) (added, skipped int, err error) {
	existing, err := svc.ListInstruments(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list instruments: %w", err)
	}
	listed := make(map[string]bool, len(existing))
	for _, in := range existing {
		listed[in.Name] = true
	}

	for _, in := range seed {
		if listed[in.Name] {
			log.Infof(i18n.Get("SeedSkipped"), in.Name)
			skipped++
			continue
		}
		if err := svc.AddInstrument(ctx, in.Name, in.PurchaseCost, in.SaleCost); err != nil {
			log.Errorf(i18n.Get("SeedFailed"), in.Name, err)
			return added, skipped, fmt.Errorf("add instrument %s: %w", in.Name, err)
		}
		log.Infof(i18n.Get("SeedInstrument"), in.Name, in.PurchaseCost, in.SaleCost)
		listed[in.Name] = true
		added++
	}
	log.Infof(i18n.Get("SeedComplete"), added, skipped)
	return added, skipped, nil
}
