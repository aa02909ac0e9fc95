package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medledger/record-vault-backend/accessctl"
	"github.com/medledger/record-vault-backend/blobstore"
	"github.com/medledger/record-vault-backend/checksum"
	"github.com/medledger/record-vault-backend/interfaces"
	"github.com/medledger/record-vault-backend/ledger"
	"github.com/medledger/record-vault-backend/sealing"
)

// StageObserver receives per-stage telemetry. The metrics server implements
// it; a nil observer disables instrumentation.
type StageObserver interface {
	RecordStage(stage string, d time.Duration, err error)
	RecordAuthorization(decision string)
	RecordBlobBytes(n int)
}

// Service wires the pipeline stages together.
type Service struct {
	gateway   *sealing.Gateway
	blobs     *blobstore.Client
	ledger    interfaces.Ledger
	registrar *ledger.Registrar
	access    *accessctl.StateMachine
	observer  StageObserver
	threshold int
	log       *slog.Logger
}

// Config collects the service's collaborators.
type Config struct {
	Gateway   *sealing.Gateway
	Blobs     *blobstore.Client
	Ledger    interfaces.Ledger
	Access    *accessctl.StateMachine
	Observer  StageObserver
	Threshold int
	Log       *slog.Logger
}

// NewService validates the configuration and builds the pipeline service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Gateway == nil || cfg.Blobs == nil || cfg.Ledger == nil || cfg.Access == nil {
		return nil, fmt.Errorf("pipeline requires gateway, blob client, ledger and access control")
	}
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("%w: threshold %d below 1", interfaces.ErrPolicy, cfg.Threshold)
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Service{
		gateway:   cfg.Gateway,
		blobs:     cfg.Blobs,
		ledger:    cfg.Ledger,
		registrar: ledger.NewRegistrar(cfg.Ledger, cfg.Log),
		access:    cfg.Access,
		observer:  cfg.Observer,
		threshold: cfg.Threshold,
		log:       cfg.Log,
	}, nil
}

// SetObserver attaches stage telemetry after construction. Used when the
// metrics listener is owned by the HTTP server.
func (s *Service) SetObserver(obs StageObserver) {
	s.observer = obs
}

// ProcessResult is the outcome of a successful record upload.
type ProcessResult struct {
	RecordID interfaces.RecordID `json:"record_id"`
	BlobRef  interfaces.BlobRef  `json:"blob_ref"`
	Checksum interfaces.Checksum `json:"checksum"`
	TxDigest interfaces.TxDigest `json:"tx_digest"`
}

// RetrieveResult is the outcome of a successful record retrieval.
type RetrieveResult struct {
	Payload   []byte                        `json:"-"`
	Reference interfaces.LedgerRecordUpdate `json:"reference"`
	Proof     interfaces.AccessProof        `json:"proof"`
}

// ProcessRecord runs the upload pipeline for the caller's own record:
// seal the payload under the caller's identity, upload the ciphertext,
// digest it, then register the reference on the ledger. A failed stage
// aborts everything after it; in particular the ledger is never touched
// before blob storage has confirmed the upload.
func (s *Service) ProcessRecord(ctx context.Context, caller interfaces.CallerContext, payload []byte, recordType interfaces.RecordType, signer interfaces.TransactionSigner) (*ProcessResult, error) {
	if err := s.checkSigner(caller, signer); err != nil {
		return nil, err
	}

	recordID := interfaces.RecordIDForPatient(caller.Signer)
	start := time.Now()

	sealed, _, err := s.stageEncrypt(ctx, payload, caller.Signer)
	if err != nil {
		return nil, err
	}

	ref, err := s.stageUpload(ctx, sealed, interfaces.BlobMetadata{
		RecordID:   recordID,
		RecordType: recordType,
		Author:     caller.Signer,
	})
	if err != nil {
		return nil, err
	}

	sum := checksum.Digest(sealed)

	digest, err := s.stageRegister(ctx, caller.Signer, interfaces.LedgerRecordUpdate{
		RecordID:   recordID,
		BlobRef:    ref,
		Checksum:   sum,
		RecordType: recordType,
		Timestamp:  time.Now(),
	}, signer)
	if err != nil {
		return nil, err
	}

	s.log.Info("Record processed",
		slog.String("record_id", recordID.String()),
		slog.String("blob_id", ref.ID.String()),
		slog.String("tx_digest", digest.String()),
		slog.Duration("duration", time.Since(start)))

	return &ProcessResult{
		RecordID: recordID,
		BlobRef:  ref,
		Checksum: sum,
		TxDigest: digest,
	}, nil
}

// RetrieveRecord runs the retrieval pipeline: authorize the caller, read
// the latest reference, fetch the ciphertext, verify its checksum, then
// decrypt through the key-server pool. A checksum mismatch is fatal and
// no plaintext is returned.
func (s *Service) RetrieveRecord(ctx context.Context, caller interfaces.CallerContext, recordID interfaces.RecordID, signer interfaces.TransactionSigner) (*RetrieveResult, error) {
	proof, err := s.stageAuthorize(ctx, caller, recordID, signer)
	if err != nil {
		return nil, err
	}

	state, err := s.ledger.ReadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	ref := state.LatestReference()
	if ref == nil {
		return nil, fmt.Errorf("%w: record %s has no references", interfaces.ErrRecordNotFound, recordID)
	}

	data, err := s.stageFetch(ctx, ref.BlobRef.ID)
	if err != nil {
		return nil, err
	}

	if err := s.stageVerify(data, ref.Checksum, recordID); err != nil {
		return nil, err
	}

	payload, err := s.stageDecrypt(ctx, data, state.Owner, *proof)
	if err != nil {
		return nil, err
	}

	s.log.Info("Record retrieved",
		slog.String("record_id", recordID.String()),
		slog.String("requester", caller.Signer.String()),
		slog.String("basis", string(proof.Basis)))

	return &RetrieveResult{
		Payload:   payload,
		Reference: *ref,
		Proof:     *proof,
	}, nil
}

func (s *Service) checkSigner(caller interfaces.CallerContext, signer interfaces.TransactionSigner) error {
	if signer == nil || !signer.IsSessionValid() {
		return fmt.Errorf("%w: no valid signing session", interfaces.ErrSessionExpired)
	}
	if !signer.CurrentIdentity().Equal(caller.Signer) {
		return fmt.Errorf("%w: signer does not match caller identity", interfaces.ErrPermissionDenied)
	}
	return nil
}

func (s *Service) stageEncrypt(ctx context.Context, payload []byte, identity interfaces.PrincipalID) ([]byte, *sealing.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	rec, policy, err := s.gateway.Encrypt(ctx, payload, identity, s.threshold)
	if err != nil {
		s.observe("encrypt", start, err)
		return nil, nil, err
	}

	sealed, err := rec.Marshal()
	s.observe("encrypt", start, err)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrEncryptionFailure, err)
	}
	return sealed, policy, nil
}

func (s *Service) stageUpload(ctx context.Context, sealed []byte, meta interfaces.BlobMetadata) (interfaces.BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.BlobRef{}, err
	}

	start := time.Now()
	ref, err := s.blobs.Put(ctx, sealed, meta)
	s.observe("upload", start, err)
	if err != nil {
		return interfaces.BlobRef{}, err
	}
	if s.observer != nil {
		s.observer.RecordBlobBytes(len(sealed))
	}
	return ref, nil
}

func (s *Service) stageRegister(ctx context.Context, owner interfaces.PrincipalID, update interfaces.LedgerRecordUpdate, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.TxDigest{}, err
	}

	start := time.Now()
	digest, err := s.registrar.Register(ctx, owner, update, signer)
	s.observe("register", start, err)
	return digest, err
}

func (s *Service) stageAuthorize(ctx context.Context, caller interfaces.CallerContext, recordID interfaces.RecordID, signer interfaces.TransactionSigner) (*interfaces.AccessProof, error) {
	start := time.Now()
	proof, err := s.access.Authorize(ctx, caller, recordID, signer)
	s.observe("authorize", start, err)
	if s.observer != nil {
		if err != nil {
			s.observer.RecordAuthorization("denied")
		} else {
			s.observer.RecordAuthorization("granted")
		}
	}
	return proof, err
}

func (s *Service) stageFetch(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := s.blobs.Get(ctx, id)
	s.observe("fetch", start, err)
	return data, err
}

func (s *Service) stageVerify(data []byte, expected interfaces.Checksum, recordID interfaces.RecordID) error {
	err := checksum.MustMatch(data, expected)
	if err != nil {
		s.log.Error("Checksum verification failed, aborting retrieval",
			slog.String("record_id", recordID.String()),
			"err", err)
	}
	s.observe("verify", time.Now(), err)
	return err
}

func (s *Service) stageDecrypt(ctx context.Context, sealed []byte, owner interfaces.PrincipalID, proof interfaces.AccessProof) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	rec, err := sealing.ParseSealedRecord(sealed)
	if err != nil {
		s.observe("decrypt", start, err)
		return nil, err
	}

	payload, err := s.gateway.Decrypt(ctx, rec, owner, proof)
	s.observe("decrypt", start, err)
	return payload, err
}

func (s *Service) observe(stage string, start time.Time, err error) {
	if s.observer == nil {
		return
	}
	s.observer.RecordStage(stage, time.Since(start), err)
}
