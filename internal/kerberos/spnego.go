package kerberos

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	krbconfig "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"go.uber.org/zap"
)

const (
	// DefaultKrb5Conf is read when no krb5.conf path is configured.
	DefaultKrb5Conf = "/etc/krb5.conf"

	// DefaultKinitTimer is how long a ccache written by kinit is trusted.
	DefaultKinitTimer = 4 * time.Hour

	// DefaultTimeout applies when a request carries none.
	DefaultTimeout = 10 * time.Second

	maxBodySize = 16 << 20
)

// SPNEGOConfig holds the settings of SPNEGORequester.
type SPNEGOConfig struct {
	Krb5ConfPath string
	KinitTimer   time.Duration
}

// SPNEGORequester implements Requester with gokrb5.
type SPNEGORequester struct {
	config    SPNEGOConfig
	transport http.RoundTripper
	logger    *zap.Logger

	// loadKrb5Conf is swapped in tests.
	loadKrb5Conf func(path string) (*krbconfig.Config, error)

	mu       sync.Mutex
	sessions map[string]*session
}

// session is a logged-in client reused until the kinit timer runs out.
type session struct {
	cl       *client.Client
	obtained time.Time
}

// NewSPNEGORequester creates a requester. transport may be nil.
func NewSPNEGORequester(cfg SPNEGOConfig, transport http.RoundTripper, logger *zap.Logger) *SPNEGORequester {
	if cfg.Krb5ConfPath == "" {
		cfg.Krb5ConfPath = DefaultKrb5Conf
	}
	if cfg.KinitTimer <= 0 {
		cfg.KinitTimer = DefaultKinitTimer
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SPNEGORequester{
		config:       cfg,
		transport:    transport,
		logger:       logger.Named("kerberos"),
		loadKrb5Conf: krbconfig.Load,
		sessions:     make(map[string]*session),
	}
}

// Get obtains a ticket and performs the authenticated GET. In lightweight
// mode the body is returned whatever the status; in raw mode the status code
// is the point of the call.
func (r *SPNEGORequester) Get(ctx context.Context, req Request, mode Mode) (*Response, error) {
	start := time.Now()

	cl, err := r.login(req)
	if err != nil {
		return nil, err
	}

	httpClient := r.httpClient(mode, req.Timeout)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := spnego.NewClient(cl, httpClient, "").Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kerberos request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body from %s: %w", req.URL, err)
	}

	elapsed := time.Since(start)
	r.logger.Debug("Kerberos request completed",
		zap.String("caller", req.CallerLabel),
		zap.String("url", req.URL),
		zap.Stringer("mode", mode),
		zap.Int("status", resp.StatusCode),
		zap.Int("body_size", len(body)),
		zap.Duration("elapsed", elapsed))

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Elapsed:    elapsed,
	}, nil
}

// httpClient builds the client handed to the SPNEGO wrapper. Raw mode reports
// a redirect as the status it is instead of following it.
func (r *SPNEGORequester) httpClient(mode Mode, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &http.Client{
		Transport: r.transport,
		Timeout:   timeout,
	}
	if mode == ModeRaw {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

// Close destroys every cached session.
func (r *SPNEGORequester) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, sess := range r.sessions {
		sess.cl.Destroy()
		delete(r.sessions, key)
	}
	return nil
}

func (r *SPNEGORequester) cached(key string) *client.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[key]
	if !ok {
		return nil
	}
	if time.Since(sess.obtained) > r.config.KinitTimer {
		sess.cl.Destroy()
		delete(r.sessions, key)
		return nil
	}
	return sess.cl
}

func (r *SPNEGORequester) remember(key string, cl *client.Client, obtained time.Time) *client.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sessions[key]; ok && prev.cl != cl {
		// A concurrent login won; keep the first and drop ours.
		if time.Since(prev.obtained) <= r.config.KinitTimer {
			cl.Destroy()
			return prev.cl
		}
		prev.cl.Destroy()
	}
	r.sessions[key] = &session{cl: cl, obtained: obtained}
	return cl
}

// login returns a session for the keytab/principal pair. In order it tries a
// session cached by an earlier login, a fresh ccache at CCachePath written by
// "kinit -kt <keytab> -c <path> <principal>", and a keytab login. Whichever
// succeeds is cached for the kinit timer.
func (r *SPNEGORequester) login(req Request) (*client.Client, error) {
	authErr := func(err error) error {
		return &AuthError{Principal: req.Principal, Keytab: req.Keytab, Err: err}
	}

	if req.Keytab == "" || req.Principal == "" {
		return nil, authErr(fmt.Errorf("keytab and principal are required"))
	}

	conf, err := r.loadKrb5Conf(r.config.Krb5ConfPath)
	if err != nil {
		return nil, authErr(fmt.Errorf("failed to load %s: %w", r.config.Krb5ConfPath, err))
	}

	key := CCachePath("", req.CachePrefix, req.Keytab, req.Principal)
	if cl := r.cached(key); cl != nil {
		return cl, nil
	}

	if cl, obtained := r.fromCCache(req, conf); cl != nil {
		return r.remember(key, cl, obtained), nil
	}

	kt, err := keytab.Load(req.Keytab)
	if err != nil {
		return nil, authErr(fmt.Errorf("failed to load keytab: %w", err))
	}

	name, realm := SplitPrincipal(req.Principal)
	if realm == "" {
		realm = conf.LibDefaults.DefaultRealm
	}

	cl := client.NewWithKeytab(name, realm, kt, conf, client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return nil, authErr(err)
	}

	r.logger.Debug("Obtained kerberos ticket from keytab",
		zap.String("caller", req.CallerLabel),
		zap.String("principal", req.Principal))
	return r.remember(key, cl, time.Now()), nil
}

// fromCCache loads an operator-written ccache, returning its write time so the
// session expires with the file.
func (r *SPNEGORequester) fromCCache(req Request, conf *krbconfig.Config) (*client.Client, time.Time) {
	if req.TempDir == "" {
		return nil, time.Time{}
	}

	path := CCachePath(req.TempDir, req.CachePrefix, req.Keytab, req.Principal)
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) > r.config.KinitTimer {
		return nil, time.Time{}
	}

	cc, err := credentials.LoadCCache(path)
	if err != nil {
		r.logger.Debug("Ignoring unreadable credential cache", zap.String("path", path), zap.Error(err))
		return nil, time.Time{}
	}
	cl, err := client.NewFromCCache(cc, conf, client.DisablePAFXFAST(true))
	if err != nil {
		r.logger.Debug("Ignoring unusable credential cache", zap.String("path", path), zap.Error(err))
		return nil, time.Time{}
	}

	r.logger.Debug("Using cached kerberos ticket", zap.String("path", path))
	return cl, info.ModTime()
}
