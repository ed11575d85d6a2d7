package service

import (
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/config"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/repository"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/ticket"
	"github.com/rs/zerolog"
)

// FromConfig builds a RegistrationService over store using the configured
// identifier format, minting policy and event metadata.
func FromConfig(store *repository.Store, cfg config.Config, log zerolog.Logger) (*RegistrationService, error) {
	format, err := cfg.Format()
	if err != nil {
		return nil, err
	}
	pool := repository.NewIdentifierPool(
		ticket.NewGenerator(format),
		repository.PoolPolicy{AllowMint: cfg.AllowMint, MintAttempts: cfg.MintAttempts},
		nil,
	)
	return NewRegistrationService(
		store,
		repository.NewCapacityLedger(nil),
		pool,
		repository.NewRegistrationStore(),
		ticket.NewCodec(format, cfg.EventInfo()),
		log,
	), nil
}
