package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AccountLocker serializes postings to one account across instances via
// redislock, on top of the row lock every posting transaction takes anyway.
// A nil Locker degrades to row locking only, which keeps single-instance
// deployments and tests redis-free.
type AccountLocker struct {
	Locker *redislock.Client
	Logger *logrus.Logger
	TTL    time.Duration
}

func NewAccountLocker(locker *redislock.Client, logger *logrus.Logger) *AccountLocker {
	return &AccountLocker{
		Locker: locker,
		Logger: logger,
		TTL:    30 * time.Second,
	}
}

// Obtain takes the lock and returns its release. The lock is held until
// release is called, spanning the whole posting transaction.
func (l *AccountLocker) Obtain(ctx context.Context, key string) (release func(), err error) {
	if l == nil || l.Locker == nil {
		return func() {}, nil
	}

	lock, err := l.Locker.Obtain(ctx, key, l.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(l.Logger, "workflow", "Obtain", "could not obtain account lock", key, err)
		return nil, errors.New("could not obtain account lock")
	} else if err != nil {
		config.LogError(l.Logger, "workflow", "Obtain", "error obtaining account lock", key, err)
		return nil, err
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

func PayeeLockKey(scopeId int) string {
	return fmt.Sprintf("lock:payee:%d", scopeId)
}

func BalanceLockKey(balanceId int) string {
	return fmt.Sprintf("lock:balance:%d", balanceId)
}

// AcquireBalancePostingLock serializes corrections per balance using MySQL
// advisory locks, so the correction path works with no redis at all.
// GET_LOCK is connection-scoped: call it on the same *gorm.DB that runs the
// posting transaction.
func AcquireBalancePostingLock(tx *gorm.DB, balanceId int) error {
	lockName := fmt.Sprintf("posting:balance:%d", balanceId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for balance_id=%d", balanceId)
	}
	return nil
}

func ReleaseBalancePostingLock(tx *gorm.DB, balanceId int) {
	lockName := fmt.Sprintf("posting:balance:%d", balanceId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
