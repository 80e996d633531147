package utils

import (
	"context"
	"fmt"
	"sync"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var seqMutex sync.Mutex

const correctionSeqKey = "correction_seq"

// CorrectionSequence numbers balance corrections "ADJ-000001", "ADJ-000002",
// ... through a redis counter. A fresh counter (redis flushed or first run)
// reseeds from the highest number already in the database, so restarts never
// reissue a number.
type CorrectionSequence struct {
	DB  *gorm.DB
	Rdb *redis.Client
}

func (s CorrectionSequence) NextCorrectionNumber(ctx context.Context) (string, error) {
	seqMutex.Lock()
	defer seqMutex.Unlock()

	seqNo, err := config.GetRedisCounter(ctx, s.Rdb, correctionSeqKey)
	if err != nil {
		return "", err
	}
	// INCR returning 1 means the counter is fresh; 0 means no redis at all.
	// Either way, reseed from the database max.
	if seqNo <= 1 {
		var dbSeq *int64
		err := s.DB.WithContext(ctx).Raw(`
			SELECT MAX(CAST(SUBSTRING(correction_number, 5) AS UNSIGNED))
			FROM balance_corrections
			WHERE correction_number LIKE 'ADJ-%'
		`).Scan(&dbSeq).Error
		if err != nil {
			return "", err
		}
		if dbSeq != nil && *dbSeq >= seqNo {
			seqNo = *dbSeq + 1
			if err := config.SetRedisCounter(ctx, s.Rdb, correctionSeqKey, seqNo); err != nil {
				return "", err
			}
		}
		if seqNo == 0 {
			seqNo = 1
		}
	}
	return fmt.Sprintf("ADJ-%06d", seqNo), nil
}
