package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/simplerouter/pkg/util"
)

// Options describes how to reach a device.
type Options struct {
	// Name identifies the device; it keys the controller binding.
	Name string
	// Addr is the Redis address (host:port). Ignored when SSH is set.
	Addr string
	// SSH, when set, reaches Redis through an SSH tunnel to the device.
	SSH *SSHOptions
}

// Client talks to one device over Redis, one connection pool per database.
type Client struct {
	name     string
	appl     *redis.Client
	counters *redis.Client
	state    *redis.Client
	tunnel   *SSHTunnel
}

// NewClient creates a client for the Redis server at addr. No connection is
// made until the first call; use Connect to verify reachability.
func NewClient(name, addr string) *Client {
	return &Client{
		name:     name,
		appl:     redis.NewClient(&redis.Options{Addr: addr, DB: applDB}),
		counters: redis.NewClient(&redis.Options{Addr: addr, DB: countersDB}),
		state:    redis.NewClient(&redis.Options{Addr: addr, DB: stateDB}),
	}
}

// Dial opens the SSH tunnel if one is configured, creates the client, and
// pings every database.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	addr := opts.Addr
	var tunnel *SSHTunnel
	if opts.SSH != nil {
		t, err := NewSSHTunnel(*opts.SSH)
		if err != nil {
			return nil, err
		}
		tunnel = t
		addr = t.LocalAddr()
		util.WithDevice(opts.Name).Debugf("ssh tunnel %s -> %s via %s", addr, opts.SSH.remote(), opts.SSH.Host)
	}

	c := NewClient(opts.Name, addr)
	c.tunnel = tunnel
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Name returns the device name.
func (c *Client) Name() string {
	return c.name
}

// Connect pings each database.
func (c *Client) Connect(ctx context.Context) error {
	for db, client := range map[string]*redis.Client{"APPL_DB": c.appl, "COUNTERS_DB": c.counters, "STATE_DB": c.state} {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to %s on %s: %w", db, c.name, err)
		}
	}
	return nil
}

// Close closes every connection and the tunnel, if any.
func (c *Client) Close() error {
	var errs []error
	for _, client := range []*redis.Client{c.appl, c.counters, c.state} {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.tunnel != nil {
		if err := c.tunnel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// installEntryScript atomically creates a table entry and assigns its handle.
// Returns the new handle, or 0 if an entry with the same key exists.
var installEntryScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
local handle = redis.call("INCR", KEYS[2])
redis.call("HSET", key, "handle", handle, unpack(ARGV))
return handle
`)

// InstallEntry adds a table entry and returns its handle. An entry with the
// same match key is rejected with ErrEntryExists.
func (c *Client) InstallEntry(ctx context.Context, table string, m Match, a Action) (Handle, error) {
	key, err := entryKey(table, m)
	if err != nil {
		return 0, err
	}
	h, err := installEntryScript.Run(ctx, c.appl, []string{key, handleSeqKey}, actionFields(a)...).Int64()
	if err != nil {
		return 0, fmt.Errorf("installing %s: %w", key, err)
	}
	if h == 0 {
		return 0, ErrEntryExists
	}
	return Handle(h), nil
}

// LookupEntry returns the handle of an installed entry without modifying the
// device.
func (c *Client) LookupEntry(ctx context.Context, table string, m Match) (Handle, error) {
	key, err := entryKey(table, m)
	if err != nil {
		return 0, err
	}
	v, err := c.appl.HGet(ctx, key, "handle").Result()
	if err == redis.Nil {
		return 0, ErrEntryNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}
	h, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing handle of %s: %w", key, err)
	}
	return Handle(h), nil
}

// SetDefaultAction sets the action taken on a table miss.
func (c *Client) SetDefaultAction(ctx context.Context, table string, a Action) error {
	key := defaultKey(table)
	pipe := c.appl.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, actionFields(a)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting default action of %s: %w", table, err)
	}
	return nil
}

// ReadCounter reads one counter cell.
func (c *Client) ReadCounter(ctx context.Context, name string, index uint32) (Counter, error) {
	key := counterKey(name, index)
	vals, err := c.counters.HGetAll(ctx, key).Result()
	if err != nil {
		return Counter{}, fmt.Errorf("reading %s: %w", key, err)
	}
	if len(vals) == 0 {
		return Counter{}, ErrCounterNotFound
	}
	var ctr Counter
	if ctr.Packets, err = parseCount(vals["packets"]); err != nil {
		return Counter{}, fmt.Errorf("%s packets: %w", key, err)
	}
	if ctr.Bytes, err = parseCount(vals["bytes"]); err != nil {
		return Counter{}, fmt.Errorf("%s bytes: %w", key, err)
	}
	return ctr, nil
}

func parseCount(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// PushConfig replaces the forwarding pipeline. All installed entries and
// default actions are cleared in the same transaction; handles issued before
// the push no longer name anything.
func (c *Client) PushConfig(ctx context.Context, buf []byte) error {
	if len(buf) == 0 {
		return ErrEmptyConfig
	}
	var stale []string
	for _, pattern := range []string{tablePrefix + ":*", defaultPrefix + ":*"} {
		keys, err := scanKeys(ctx, c.appl, pattern, 500)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", pattern, err)
		}
		stale = append(stale, keys...)
	}

	pipe := c.appl.TxPipeline()
	for _, key := range stale {
		pipe.Del(ctx, key)
	}
	pipe.Set(ctx, pipelineKey, buf, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pushing pipeline config: %w", err)
	}
	util.WithDevice(c.name).Infof("pipeline config replaced (%d bytes, %d entries cleared)", len(buf), len(stale))
	return nil
}

// SendPacketOut injects a CPU-header encapsulated frame into the device.
func (c *Client) SendPacketOut(ctx context.Context, payload []byte) error {
	if err := c.appl.Publish(ctx, PacketOutChannel, payload).Err(); err != nil {
		return fmt.Errorf("packet-out: %w", err)
	}
	return nil
}

// acquireLockScript takes the controller binding. Returns 1 on success, 0 if
// another holder owns it. A zero TTL binds until released.
var acquireLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
if tonumber(ARGV[3]) > 0 then
	redis.call("EXPIRE", key, tonumber(ARGV[3]))
end
return 1
`)

// releaseLockScript frees the binding if holder still owns it.
// Returns 1 on success, 0 on holder mismatch, -1 if no binding exists.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
if redis.call("HGET", key, "holder") ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// renewLockScript extends the binding's expiry if holder still owns it.
// Returns 1 on success, 0 on holder mismatch or a lapsed binding.
var renewLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("HGET", key, "holder") ~= ARGV[1] then
	return 0
end
redis.call("EXPIRE", key, tonumber(ARGV[2]))
return 1
`)

// Bind registers holder as the device's controller in STATE_DB.
// Returns util.ErrDeviceLocked if another holder is bound.
func (c *Client) Bind(ctx context.Context, holder string, ttl time.Duration) error {
	now := time.Now().UTC().Format(time.RFC3339)
	secs := strconv.Itoa(int(ttl / time.Second))

	result, err := acquireLockScript.Run(ctx, c.state, []string{lockKey(c.name)}, holder, now, secs).Int()
	if err != nil {
		return fmt.Errorf("binding %s: %w", c.name, err)
	}
	if result == 0 {
		return util.ErrDeviceLocked
	}
	return nil
}

// Renew pushes out the expiry of holder's binding by ttl.
func (c *Client) Renew(ctx context.Context, holder string, ttl time.Duration) error {
	secs := strconv.Itoa(int(ttl / time.Second))
	result, err := renewLockScript.Run(ctx, c.state, []string{lockKey(c.name)}, holder, secs).Int()
	if err != nil {
		return fmt.Errorf("renewing %s: %w", c.name, err)
	}
	if result == 0 {
		return fmt.Errorf("binding of %s lost: %w", c.name, util.ErrDeviceLocked)
	}
	return nil
}

// Release drops holder's binding.
func (c *Client) Release(ctx context.Context, holder string) error {
	result, err := releaseLockScript.Run(ctx, c.state, []string{lockKey(c.name)}, holder).Int()
	if err != nil {
		return fmt.Errorf("releasing %s: %w", c.name, err)
	}
	if result == 0 {
		return fmt.Errorf("binding holder mismatch for %s", c.name)
	}
	return nil
}

// BoundHolder returns the current binding holder, or "" if unbound.
func (c *Client) BoundHolder(ctx context.Context) (string, error) {
	holder, err := c.state.HGet(ctx, lockKey(c.name), "holder").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading binding of %s: %w", c.name, err)
	}
	return holder, nil
}

func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, nextCursor, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
