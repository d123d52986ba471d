package service

import (
	"go.uber.org/zap"

	"identity-service/internal/audit"
	"identity-service/internal/config"
	"identity-service/internal/delivery"
	"identity-service/internal/encryption"
	"identity-service/internal/hashing"
	"identity-service/internal/models"
	"identity-service/internal/token"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	identities    models.IdentityStore
	challenges    models.ChallengeStore
	roles         models.RoleStore
	hasher        *hashing.Hasher
	encryptionMgr *encryption.EncryptionManager
	tokenMgr      *token.Manager
	sender        delivery.CodeSender
	recorder      *audit.Recorder
	config        *config.Config
	logger        *zap.Logger

	gate             *CredentialGate
	challengeService *ChallengeService
	authService      *AuthService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	identities models.IdentityStore,
	challenges models.ChallengeStore,
	roles models.RoleStore,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	tokenMgr *token.Manager,
	sender delivery.CodeSender,
	recorder *audit.Recorder,
	cfg *config.Config,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		identities:    identities,
		challenges:    challenges,
		roles:         roles,
		hasher:        hasher,
		encryptionMgr: encryptionMgr,
		tokenMgr:      tokenMgr,
		sender:        sender,
		recorder:      recorder,
		config:        cfg,
		logger:        logger,
	}
}

// Gate returns the credential gate instance (singleton)
func (f *ServiceFactory) Gate() *CredentialGate {
	if f.gate == nil {
		f.gate = NewCredentialGate(f.identities, f.hasher, f.recorder, &f.config.Auth)
	}
	return f.gate
}

// ChallengeService returns the challenge service instance (singleton)
func (f *ServiceFactory) ChallengeService() *ChallengeService {
	if f.challengeService == nil {
		f.challengeService = NewChallengeService(f.challenges, f.hasher, f.encryptionMgr, f.sender, &f.config.Auth)
	}
	return f.challengeService
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(f.Gate(), f.ChallengeService(), f.identities, f.roles, f.tokenMgr, f.recorder)
	}
	return f.authService
}
