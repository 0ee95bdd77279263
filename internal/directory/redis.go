package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/livecast/internal/models"
	"github.com/pion/logging"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	livelog "github.com/mossy-p/livecast/internal/logging"
)

// DefaultKey is the Redis hash holding one msgpack record per live streamer.
const DefaultKey = "live:streamers"

// Redis is a Directory backed by a Redis hash.
type Redis struct {
	client *redis.Client
	key    string
	limit  int
	log    logging.LeveledLogger
}

// RedisOptions configures NewRedis
type RedisOptions struct {
	// Key overrides DefaultKey.
	Key string
	// Limit caps ListLive results. Zero means no cap.
	Limit         int
	LoggerFactory logging.LoggerFactory
}

func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	return &Redis{
		client: client,
		key:    key,
		limit:  opts.Limit,
		log:    livelog.OrDefault(opts.LoggerFactory).NewLogger("directory"),
	}
}

// ListLive returns live streamers, newest first, without excluding.
func (d *Redis) ListLive(ctx context.Context, excluding string) ([]models.DirectoryEntry, error) {
	raw, err := d.client.HGetAll(ctx, d.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list live: %w", err)
	}

	entries := make([]models.DirectoryEntry, 0, len(raw))
	for id, data := range raw {
		if id == excluding {
			continue
		}
		var e models.DirectoryEntry
		if err := msgpack.Unmarshal([]byte(data), &e); err != nil {
			d.log.Warnf("skipping corrupt record for %s: %v", id, err)
			continue
		}
		e.ID = id
		entries = append(entries, e)
	}
	return sortNewestFirst(entries, d.limit), nil
}

// SetLive records or clears id's live flag.
func (d *Redis) SetLive(ctx context.Context, id string, live bool, startedAt time.Time) error {
	return d.SetLiveNamed(ctx, id, "", live, startedAt)
}

// SetLiveNamed is SetLive with a display name stored alongside the entry.
func (d *Redis) SetLiveNamed(ctx context.Context, id, displayName string, live bool, startedAt time.Time) error {
	if id == "" {
		return ErrNoIdentity
	}
	if !live {
		if err := d.client.HDel(ctx, d.key, id).Err(); err != nil {
			return fmt.Errorf("clear live %s: %w", id, err)
		}
		return nil
	}

	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	data, err := msgpack.Marshal(models.DirectoryEntry{
		ID:          id,
		DisplayName: displayName,
		LiveSince:   startedAt.UTC(),
	})
	if err != nil {
		return err
	}
	if err := d.client.HSet(ctx, d.key, id, data).Err(); err != nil {
		return fmt.Errorf("set live %s: %w", id, err)
	}
	return nil
}
