package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ErenYanic/SEC-SemanticSearch/config"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

// State of the embedding model on the Ollama side, as tracked locally.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoaded   State = "loaded"
)

// Status describes the model for the resources API.
type Status struct {
	Model     string `json:"model"`
	State     State  `json:"state"`
	VRAMBytes int64  `json:"vram_bytes"`
}

// Service embeds text through a local Ollama instance. The model moves
// between exactly two states: Unloaded and Loaded. Any embed call loads
// transparently; an optional idle reaper unloads after inactivity.
type Service struct {
	cfg    config.EmbeddingConfig
	client *http.Client
	logger *log.Logger

	mu      sync.Mutex
	state   State
	lastUse time.Time

	stopReaper chan struct{}
	reaperOnce sync.Once
}

func New(cfg config.EmbeddingConfig) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	s := &Service{
		cfg:        cfg,
		client:     &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[EMBED] ", log.LstdFlags),
		state:      StateUnloaded,
		stopReaper: make(chan struct{}),
	}
	if cfg.IdleUnloadAfter > 0 {
		go s.reap(cfg.IdleUnloadAfter)
	}
	return s
}

// reap unloads the model once it has been idle long enough. The check
// interval is a fraction of the idle threshold so unloads land close to
// the deadline without busy polling.
func (s *Service) reap(idle time.Duration) {
	interval := idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopReaper:
			return
		case <-ticker.C:
			s.mu.Lock()
			expired := s.state == StateLoaded && time.Since(s.lastUse) >= idle
			s.mu.Unlock()
			if expired {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.Unload(ctx); err != nil {
					s.logger.Printf("idle unload failed: %v", err)
				} else {
					s.logger.Printf("model %s unloaded after %s idle", s.cfg.Model, idle)
				}
				cancel()
			}
		}
	}
}

// Close stops the idle reaper. It does not unload the model.
func (s *Service) Close() {
	s.reaperOnce.Do(func() { close(s.stopReaper) })
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive int      `json:"keep_alive"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (s *Service) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return core.Wrap(core.KindEmbedding, "marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return core.Wrap(core.KindEmbedding, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return core.Wrap(core.KindEmbedding, "ollama unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return core.Ef(core.KindEmbedding, "ollama error", "status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.Wrap(core.KindEmbedding, "decode response", err)
	}
	return nil
}

// Load warms the model into memory. Safe to call when already loaded.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateLoaded {
		s.lastUse = time.Now()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var resp embedResponse
	if err := s.post(ctx, "/api/embed", embedRequest{Model: s.cfg.Model, Input: []string{"warmup"}, KeepAlive: -1}, &resp); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = StateLoaded
	s.lastUse = time.Now()
	s.mu.Unlock()
	s.logger.Printf("model %s loaded", s.cfg.Model)
	return nil
}

// Unload evicts the model from memory. Idempotent: unloading an
// unloaded model succeeds without side effects.
func (s *Service) Unload(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateUnloaded {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	payload := map[string]any{"model": s.cfg.Model, "keep_alive": 0}
	if err := s.post(ctx, "/api/generate", payload, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = StateUnloaded
	s.mu.Unlock()
	return nil
}

// Loaded reports the locally tracked model state.
func (s *Service) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateLoaded
}

type psResponse struct {
	Models []struct {
		Name     string `json:"name"`
		Model    string `json:"model"`
		SizeVRAM int64  `json:"size_vram"`
	} `json:"models"`
}

// VRAMBytes asks Ollama how much video memory the model currently
// occupies. Returns 0 when the model is not resident.
func (s *Service) VRAMBytes(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/api/ps", nil)
	if err != nil {
		return 0, core.Wrap(core.KindEmbedding, "create request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, core.Wrap(core.KindEmbedding, "ollama unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, core.Ef(core.KindEmbedding, "ollama error", "status %d from /api/ps", resp.StatusCode)
	}
	var ps psResponse
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		return 0, core.Wrap(core.KindEmbedding, "decode response", err)
	}
	for _, m := range ps.Models {
		if m.Name == s.cfg.Model || m.Model == s.cfg.Model ||
			strings.HasPrefix(m.Name, s.cfg.Model+":") || strings.HasPrefix(m.Model, s.cfg.Model+":") {
			return m.SizeVRAM, nil
		}
	}
	return 0, nil
}

// Status collects model name, state and VRAM use for the resources API.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{Model: s.cfg.Model, State: StateUnloaded}
	if s.Loaded() {
		st.State = StateLoaded
	}
	if vram, err := s.VRAMBytes(ctx); err == nil {
		st.VRAMBytes = vram
	}
	return st
}

// Ping checks the Ollama API without touching the model.
func (s *Service) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/api/tags", http.NoBody)
	if err != nil {
		return core.Wrap(core.KindEmbedding, "create request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return core.Wrap(core.KindEmbedding, "ollama unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.Ef(core.KindEmbedding, "ollama error", "status %d from /api/tags", resp.StatusCode)
	}
	return nil
}

// EmbedTexts embeds texts in configured batch sizes, returning one
// vector per input in order. Loads the model when necessary.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, core.E(core.KindEmbedding, "no texts to embed")
	}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	for start := 0; start < len(texts); start += batch {
		end := start + batch
		if end > len(texts) {
			end = len(texts)
		}
		var resp embedResponse
		if err := s.post(ctx, "/api/embed", embedRequest{Model: s.cfg.Model, Input: texts[start:end], KeepAlive: -1}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, core.Ef(core.KindEmbedding, "embedding count mismatch", "sent %d texts, got %d vectors", end-start, len(resp.Embeddings))
		}
		for _, vec := range resp.Embeddings {
			v32 := make([]float32, len(vec))
			for i, f := range vec {
				v32[i] = float32(f)
			}
			out = append(out, v32)
		}
	}

	s.mu.Lock()
	s.lastUse = time.Now()
	s.mu.Unlock()
	return out, nil
}

// EmbedChunks embeds chunk contents, one vector per chunk.
func (s *Service) EmbedChunks(ctx context.Context, chunks []core.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, core.E(core.KindEmbedding, "no chunks to embed")
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	return s.EmbedTexts(ctx, texts)
}

// EmbedQuery embeds a single search query.
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.E(core.KindEmbedding, "query is empty")
	}
	vectors, err := s.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, core.Ef(core.KindEmbedding, "embedding count mismatch", "expected 1 vector, got %d", len(vectors))
	}
	return vectors[0], nil
}

func (s Status) String() string {
	return fmt.Sprintf("%s (%s, %d bytes vram)", s.Model, s.State, s.VRAMBytes)
}
