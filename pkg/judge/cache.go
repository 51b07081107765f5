package judge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/blib/vaulteval/pkg/harness"
)

var bucketJudgeCache = []byte("judge_cache")

// contextHashTextLen caps how much chunk text feeds the context hash.
// Enough to distinguish real context changes without hashing megabytes.
const contextHashTextLen = 500

// Cache memoizes judge verdicts in a bbolt database keyed by a content
// hash of the judged input. A cache hit costs nothing and returns the
// verdict exactly as first produced, which is what makes re-running a
// judging pass idempotent and at-most-once in spend.
type Cache struct {
	db *bolt.DB
}

// CacheEntry is one stored verdict plus the cost it originally incurred.
type CacheEntry struct {
	JudgeType string          `json:"judge_type"`
	Result    json.RawMessage `json:"result"`
	Tokens    int             `json:"tokens"`
	CostUSD   float64         `json:"cost_usd"`
	Timestamp int64           `json:"timestamp"`
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("open judge cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the cached entry for key, or nil on a miss.
func (c *Cache) Get(key string) (*CacheEntry, error) {
	var entry *CacheEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJudgeCache)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		var e CacheEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("parse cache entry %s: %w", key, err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

// Put stores a verdict under key.
func (c *Cache) Put(key, judgeType string, result any, tokens int, costUSD float64) error {
	resultData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal cache result: %w", err)
	}
	entry := CacheEntry{
		JudgeType: judgeType,
		Result:    resultData,
		Tokens:    tokens,
		CostUSD:   costUSD,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketJudgeCache)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// ContextHash fingerprints the retrieved context a judge saw. Chunk ids
// plus a text prefix are hashed; a re-chunk or content edit changes the
// hash, a cosmetic reorder of later text past the prefix does not.
func ContextHash(chunks []harness.RetrievedChunk) string {
	type hashed struct {
		ChunkID string `json:"chunk_id"`
		Text    string `json:"text"`
	}
	entries := make([]hashed, len(chunks))
	for i, chunk := range chunks {
		text := chunk.Text
		if len(text) > contextHashTextLen {
			text = text[:contextHashTextLen]
		}
		entries[i] = hashed{ChunkID: chunk.ChunkID, Text: text}
	}
	data, _ := json.Marshal(entries)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// CacheKey identifies one judge invocation: same question, answer,
// context, model, prompt version, and judge type hit the same entry.
func CacheKey(question, answer, contextHash, model, promptVersion, judgeType string) string {
	key := fmt.Sprintf("%s|%s|%s|%s|%s|%s", judgeType, model, promptVersion, question, answer, contextHash)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}
