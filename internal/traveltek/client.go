package traveltek

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"
)

// Entry is one element of a remote directory listing.
type Entry struct {
	Name  string
	IsDir bool
	Size  uint64
}

// Source abstracts the remote pricing feed so the scheduler can be tested
// against a fake. The production implementation is FTPSource.
type Source interface {
	// List returns the entries under path. A missing directory is "no data
	// this period": it returns an empty slice, not an error.
	List(ctx context.Context, path string) ([]Entry, error)

	// Fetch downloads a single document. Returns ErrNotFound for absent
	// paths, ErrConnectivity for auth/handshake failures, and a
	// *TransientError once the retry budget is exhausted.
	Fetch(ctx context.Context, path string) ([]byte, error)

	Close() error
}

// Config holds the FTP connection settings for the Traveltek feed.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	MaxConns       int
	DialTimeout    time.Duration
	AcquireTimeout time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
}

// FTPSource implements Source over a bounded pool of FTP connections.
// Connections are dialed lazily up to MaxConns; acquisition blocks with a
// timeout when the pool is exhausted.
type FTPSource struct {
	cfg  Config
	idle chan *ftp.ServerConn
	slot chan struct{} // capacity MaxConns; a held slot is a live or in-flight conn
}

// NewFTPSource creates a pooled FTP source. It dials one connection up
// front so misconfigured credentials fail at startup rather than mid-run.
func NewFTPSource(cfg Config) (*FTPSource, error) {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 5
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}

	s := &FTPSource{
		cfg:  cfg,
		idle: make(chan *ftp.ServerConn, cfg.MaxConns),
		slot: make(chan struct{}, cfg.MaxConns),
	}

	conn, err := s.dial()
	if err != nil {
		return nil, err
	}
	s.slot <- struct{}{}
	s.idle <- conn

	log.Printf("[FTPSource] Connected to %s (max %d connections)", cfg.Host, cfg.MaxConns)
	return s, nil
}

func (s *FTPSource) dial() (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(s.cfg.DialTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectivity, addr, err)
	}
	if err := conn.Login(s.cfg.User, s.cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("%w: login as %s: %v", ErrConnectivity, s.cfg.User, err)
	}
	return conn, nil
}

// acquire takes a connection from the pool, dialing a new one if the pool
// is below capacity. Blocks up to AcquireTimeout.
func (s *FTPSource) acquire(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-s.idle:
		return conn, nil
	default:
	}

	timer := time.NewTimer(s.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case conn := <-s.idle:
		return conn, nil
	case s.slot <- struct{}{}:
		conn, err := s.dial()
		if err != nil {
			<-s.slot
			return nil, err
		}
		return conn, nil
	case <-timer.C:
		return nil, &TransientError{Attempts: 1, Err: errors.New("connection pool acquire timed out")}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns a connection to the pool, or discards it when broken so
// the next acquire dials a fresh one.
func (s *FTPSource) release(conn *ftp.ServerConn, broken bool) {
	if broken {
		conn.Quit()
		<-s.slot
		return
	}
	s.idle <- conn
}

// List returns the entries under path. Missing intermediate directories on
// the feed are normal (lines publish sparsely), so a 550 maps to an empty
// listing.
func (s *FTPSource) List(ctx context.Context, path string) ([]Entry, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := conn.List(path)
	if err != nil {
		if isMissingPath(err) {
			s.release(conn, false)
			return nil, nil
		}
		s.release(conn, true)
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	s.release(conn, false)

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, Entry{
			Name:  e.Name,
			IsDir: e.Type == ftp.EntryTypeFolder,
			Size:  e.Size,
		})
	}
	return out, nil
}

// Fetch downloads one document, retrying transfer interruptions with a
// linear backoff up to the configured attempt budget.
func (s *FTPSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		data, err := s.fetchOnce(ctx, path)
		if err == nil {
			return data, nil
		}
		if IsNotFound(err) || IsConnectivity(err) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err

		if attempt < s.cfg.RetryAttempts {
			log.Printf("[FTPSource] Fetch %s attempt %d/%d failed: %v", path, attempt, s.cfg.RetryAttempts, err)
			select {
			case <-time.After(time.Duration(attempt) * s.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, &TransientError{Attempts: s.cfg.RetryAttempts, Err: lastErr}
}

func (s *FTPSource) fetchOnce(ctx context.Context, path string) ([]byte, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := conn.Retr(path)
	if err != nil {
		if isMissingPath(err) {
			s.release(conn, false)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		s.release(conn, true)
		return nil, fmt.Errorf("failed to retrieve %s: %w", path, err)
	}

	data, err := io.ReadAll(resp)
	closeErr := resp.Close()
	if err != nil || closeErr != nil {
		s.release(conn, true)
		if err == nil {
			err = closeErr
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	s.release(conn, false)
	return data, nil
}

// Close drains and quits all pooled connections.
func (s *FTPSource) Close() error {
	for {
		select {
		case conn := <-s.idle:
			conn.Quit()
			<-s.slot
		default:
			return nil
		}
	}
}

// isMissingPath reports whether an FTP error is a 550-class "file
// unavailable" response.
func isMissingPath(err error) bool {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code == ftp.StatusFileUnavailable || proto.Code == ftp.StatusBadFileName
	}
	return false
}

var _ Source = (*FTPSource)(nil)
