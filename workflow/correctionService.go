package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/money"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CorrectionNumberer hands out the next "ADJ-n" correction number.
type CorrectionNumberer interface {
	NextCorrectionNumber(ctx context.Context) (string, error)
}

// EvidenceStore uploads supporting evidence and returns its URL.
type EvidenceStore interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// CorrectionStore persists balance correction rows.
type CorrectionStore interface {
	CreateCorrection(ctx context.Context, tx *gorm.DB, correction *models.BalanceCorrection) error
}

// CorrectionInput is one privileged manual adjustment. Authorization (admin
// only) is enforced by the caller; this service records who acted.
type CorrectionInput struct {
	BalanceId     int    `validate:"required,gt=0"`
	TargetBalance string `validate:"required"`
	Reason        string `validate:"required"`
	EvidenceName  string
	Evidence      []byte
	AdminActorId  int `validate:"required,gt=0"`
}

// CorrectionService sets an account balance to an admin-stated target through
// a single audited ADJUSTMENT posting. The ledger post, the correction row,
// and the audit event commit together or not at all: a failure after the post
// but before the audit write rolls the posting back, because an unaudited
// correction must never exist.
type CorrectionService struct {
	Runner   TxRunner
	Ledger   Ledger
	Store    CorrectionStore
	Numbers  CorrectionNumberer
	Evidence EvidenceStore
	Locks    *AccountLocker
	Notify   Notifier
	Audit    AuditRecorder
	Logger   *logrus.Logger
	Validate *validator.Validate
}

func NewCorrectionService(db *gorm.DB, store *ledger.Store, numbers CorrectionNumberer, evidence EvidenceStore, locks *AccountLocker, logger *logrus.Logger) *CorrectionService {
	return &CorrectionService{
		Runner:   GormTxRunner{DB: db},
		Ledger:   store,
		Store:    GormCorrectionStore{},
		Numbers:  numbers,
		Evidence: evidence,
		Locks:    locks,
		Notify:   OutboxNotifier{},
		Audit:    ModelAuditRecorder{},
		Logger:   logger,
		Validate: validator.New(),
	}
}

// Correct applies one manual adjustment. The target is taken literally and
// never clamped; a zero difference is rejected before anything posts.
func (s *CorrectionService) Correct(ctx context.Context, in CorrectionInput) (*models.BalanceCorrection, error) {
	ctx, span := tracer.Start(ctx, "CorrectionService.Correct")
	defer span.End()

	if err := s.Validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return nil, models.NewValidationError(fieldErrs[0].Field(), "failed "+fieldErrs[0].Tag()+" validation")
		}
		return nil, err
	}
	target, err := money.Parse(in.TargetBalance)
	if err != nil {
		return nil, models.NewValidationError("targetBalance", err.Error())
	}

	evidenceURL := s.uploadEvidence(ctx, in)

	number, err := s.Numbers.NextCorrectionNumber(ctx)
	if err != nil {
		return nil, err
	}
	correlationId := models.CorrelationIdFromContextOrNew(ctx)

	release, err := s.Locks.Obtain(ctx, BalanceLockKey(in.BalanceId))
	if err != nil {
		return nil, err
	}
	defer release()

	var correction *models.BalanceCorrection
	err = s.Runner.InTransaction(ctx, func(tx *gorm.DB) error {
		balance, err := s.Ledger.LockBalance(ctx, tx, in.BalanceId)
		if err != nil {
			return err
		}

		original := money.New(balance.CurrentBalance)
		difference := target.Sub(original)
		if difference.IsZero() {
			return models.NewValidationError("targetBalance", "equals the current balance; nothing to correct")
		}
		isDebit := difference.IsNegative()

		_, entry, err := s.Ledger.Post(ctx, tx, ledger.PostInput{
			OwnerId:     balance.OwnerId,
			OwnerType:   balance.OwnerType,
			ScopeId:     balance.ScopeId,
			Amount:      difference.Abs(),
			EntryType:   models.EntryTypeAdjustment,
			IsDebit:     &isDebit,
			ActorId:     in.AdminActorId,
			Description: fmt.Sprintf("manual correction %s: %s", number, in.Reason),
		})
		if err != nil {
			return err
		}

		correction = &models.BalanceCorrection{
			CorrectionNumber: number,
			BalanceId:        balance.ID,
			OriginalBalance:  original.Decimal(),
			CorrectedBalance: target.Decimal(),
			DifferenceAmount: difference.Decimal(),
			Reason:           in.Reason,
			EvidenceURL:      evidenceURL,
			LedgerEntryId:    entry.ID,
			AdminActorId:     in.AdminActorId,
			CorrelationId:    correlationId,
		}
		if err := s.Store.CreateCorrection(ctx, tx, correction); err != nil {
			return err
		}

		if err := s.Audit.Record(tx, models.AuditActionCorrect, correction.ID, models.ReferenceTypeCorrection,
			map[string]interface{}{"balance": original.String()},
			map[string]interface{}{"balance": target.String()},
			fmt.Sprintf("correction %s on balance %d: %s -> %s (%s)", number, balance.ID, original.String(), target.String(), in.Reason)); err != nil {
			// Audit completeness is the invariant here: rolling back undoes
			// the posting too, and the incident is escalated.
			config.LogError(s.Logger, "workflow", "Correct", "audit write failed, correction rolled back", correction, err)
			return err
		}

		return s.Notify.Enqueue(ctx, tx, config.AlertTopic(), models.EventTypeBalanceCorrected,
			correction.ID, models.ReferenceTypeCorrection, map[string]interface{}{
				"correctionNumber": number,
				"balanceId":        balance.ID,
				"originalBalance":  original.String(),
				"correctedBalance": target.String(),
				"reason":           in.Reason,
			})
	})
	if err != nil {
		if models.IsCritical(err) {
			config.LogError(s.Logger, "workflow", "Correct", "correction rolled back", in.BalanceId, err)
		}
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"module":           "workflow",
		"correctionNumber": number,
		"balanceId":        in.BalanceId,
		"difference":       correction.DifferenceAmount.String(),
		"adminActorId":     in.AdminActorId,
		"correlationId":    correlationId,
	}).Info("balance corrected")
	return correction, nil
}

// uploadEvidence stores the attachment when one was provided. Upload failure
// downgrades to a warning: the evidence field is optional, the audit row is
// not.
func (s *CorrectionService) uploadEvidence(ctx context.Context, in CorrectionInput) *string {
	if len(in.Evidence) == 0 || s.Evidence == nil {
		return nil
	}
	name := in.EvidenceName
	if name == "" {
		name = "evidence"
	}
	objectName := fmt.Sprintf("corrections/%d/%s", in.BalanceId, name)
	url, err := s.Evidence.Upload(ctx, objectName, in.Evidence, "application/octet-stream")
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"module":    "workflow",
			"balanceId": in.BalanceId,
			"object":    objectName,
		}).Warn("evidence upload failed, proceeding without attachment: " + err.Error())
		return nil
	}
	return &url
}

// GormCorrectionStore is the production CorrectionStore.
type GormCorrectionStore struct{}

func (GormCorrectionStore) CreateCorrection(ctx context.Context, tx *gorm.DB, correction *models.BalanceCorrection) error {
	return tx.Create(correction).Error
}
