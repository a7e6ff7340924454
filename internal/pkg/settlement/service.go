package settlement

import (
	"gorm.io/gorm"
)

// Service bundles the settlement components over one store and gateway.
type Service struct {
	Store     OrderStore
	Initiator *Initiator
	Verifier  *Verifier
	Console   *Console
	Sweeper   *Sweeper
}

func NewService(store OrderStore, gw Gateway, opts VerifierOptions) *Service {
	verifier := NewVerifier(store, gw, opts)
	return &Service{
		Store:     store,
		Initiator: NewInitiator(store, gw),
		Verifier:  verifier,
		Console:   NewConsole(store),
		Sweeper:   NewSweeper(store, gw, verifier),
	}
}

// NewServiceFromDB creates a settlement service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gw Gateway, opts VerifierOptions) *Service {
	return NewService(NewRepository(db), gw, opts)
}
