package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// The URL of the site you want to build an index for.
	Seed string
	// The User-Agent header sent with every request to the target site.
	UserAgent string `yaml:"userAgent"`

	Crawler    Crawler
	PDF        PDF `yaml:"pdf"`
	Chunking   Chunking
	Embeddings Embeddings
	Index      Index
	HTTP       HTTP `yaml:"http"`
	Refresh    Refresh
	Log        Log
}

type Crawler struct {
	// The maximum amount of pages collected by link discovery.
	MaxPages int `yaml:"maxPages"`
	// Timeout for a single page fetch.
	Timeout time.Duration
	// Delay between two requests to the target site. This is a politeness contract; only set it to zero against servers you own.
	Delay time.Duration
	// Delay between page fetches while scanning pages for PDF links.
	PDFScanDelay time.Duration `yaml:"pdfScanDelay"`
	// Whether robots.txt rules should be honoured.
	RespectRobots bool `yaml:"respectRobots"`
	// Whether /sitemap.xml should be queued after the seed URL.
	FollowSitemaps bool `yaml:"followSitemaps"`
	// How page text is obtained: "http" (plain fetch) or "chrome" (headless render).
	Renderer string
}

type PDF struct {
	Enabled bool
	// The maximum amount of PDFs processed in one run.
	MaxPDFs int `yaml:"maxPDFs"`
	// Per-file ceiling, in bytes.
	MaxFileSize int64 `yaml:"maxFileSize"`
	// Ceiling for the extracted text of all PDFs together, in bytes.
	MaxTotalSize int64 `yaml:"maxTotalSize"`
	// PDFs with more pages than this are rejected.
	MaxPages int `yaml:"maxPages"`

	HeadTimeout     time.Duration `yaml:"headTimeout"`
	DownloadTimeout time.Duration `yaml:"downloadTimeout"`
	// Download attempts; only timeouts are retried.
	Attempts   int
	RetryDelay time.Duration `yaml:"retryDelay"`
	// Delay between two PDFs.
	Delay time.Duration
	// Directory for temporary downloads. Empty means the OS default.
	TempDir string `yaml:"tempDir"`
}

type Chunking struct {
	// Documents longer than this (in characters) are skipped entirely.
	MaxDocumentChars int `yaml:"maxDocumentChars"`
	// Chunks whose token estimate reaches this ceiling are dropped.
	MaxTokens int `yaml:"maxTokens"`
	// "cl100k_base" counts real tokens in addition to the word estimate, "words" uses the word estimate only.
	Tokenizer string
	Web       Split
	PDF       Split `yaml:"pdf"`
}

type Split struct {
	// Target chunk size in characters.
	Size int
	// Characters repeated from the end of the previous chunk.
	Overlap int
}

type Embeddings struct {
	// "openai" (any OpenAI-compatible API) or "gemini".
	Provider string
	// Empty selects the provider's default model.
	Model   string
	BaseURL string `yaml:"baseURL"`
	APIKey  string `yaml:"apiKey"`
	// Chunks embedded per request.
	BatchSize  int           `yaml:"batchSize"`
	BatchDelay time.Duration `yaml:"batchDelay"`
	// Price in dollars per 1000 tokens. Only used for run statistics.
	CostPer1K float64 `yaml:"costPer1K"`
}

type Index struct {
	// Directory of the persisted index. It is replaced on every successful run.
	Path    string
	Publish struct {
		S3 S3 `yaml:"s3"`
	}
}

type S3 struct {
	Bucket    string
	Region    string
	Prefix    string
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

func (s S3) Enabled() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

type HTTP struct {
	Listen         string
	Port           int16
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Refresh struct {
	// Whether the index should be rebuilt periodically while serving.
	Enabled  bool
	Interval time.Duration
}

type Log struct {
	Level  string
	Format string
}

// Default returns the configuration used for every field the config file leaves out.
func Default() *Config {
	return &Config{
		UserAgent: "siteindex/1.0 (+https://github.com/fluxcapacitor2/siteindex)",
		Crawler: Crawler{
			MaxPages:      50,
			Timeout:       10 * time.Second,
			Delay:         time.Second,
			PDFScanDelay:  2500 * time.Millisecond,
			RespectRobots: true,
			Renderer:      "http",
		},
		PDF: PDF{
			Enabled:         true,
			MaxPDFs:         10,
			MaxFileSize:     15 * 1024 * 1024,
			MaxTotalSize:    100 * 1024 * 1024,
			MaxPages:        100,
			HeadTimeout:     30 * time.Second,
			DownloadTimeout: 60 * time.Second,
			Attempts:        2,
			RetryDelay:      2 * time.Second,
			Delay:           5 * time.Second,
		},
		Chunking: Chunking{
			MaxDocumentChars: 200_000,
			MaxTokens:        8000,
			Tokenizer:        "cl100k_base",
			Web:              Split{Size: 600, Overlap: 100},
			PDF:              Split{Size: 1000, Overlap: 150},
		},
		Embeddings: Embeddings{
			Provider:   "openai",
			BatchSize:  50,
			BatchDelay: time.Second,
			CostPer1K:  0.00002,
		},
		Index: Index{Path: "./index"},
		HTTP: HTTP{
			Listen: "127.0.0.1",
			Port:   8080,
		},
		Refresh: Refresh{Interval: 24 * time.Hour},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Read loads the config file at `path` on top of the defaults, then applies environment overrides.
// Variables from a `.env` file in the working directory are loaded first if the file exists.
func Read(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing %v: %w", path, err)
	}

	config.applyEnv()

	return config, nil
}

func (c *Config) applyEnv() {
	if seed, ok := os.LookupEnv("SITEINDEX_SEED"); ok && seed != "" {
		c.Seed = seed
	}
	if c.Embeddings.APIKey != "" {
		return
	}
	switch c.Embeddings.Provider {
	case "openai":
		c.Embeddings.APIKey = os.Getenv("OPENAI_API_KEY")
	case "gemini":
		c.Embeddings.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate reports the first setting that would make a run misbehave.
func (c *Config) Validate() error {
	seed, err := url.Parse(c.Seed)
	if err != nil || (seed.Scheme != "http" && seed.Scheme != "https") || seed.Host == "" {
		return fmt.Errorf("seed must be an absolute http(s) URL, got %q", c.Seed)
	}
	if c.Crawler.MaxPages <= 0 {
		return errors.New("crawler.maxPages must be greater than zero")
	}
	if c.Crawler.Delay < 0 || c.Crawler.PDFScanDelay < 0 || c.PDF.Delay < 0 || c.Embeddings.BatchDelay < 0 {
		return errors.New("delays must not be negative")
	}
	switch c.Crawler.Renderer {
	case "http", "chrome":
	default:
		return fmt.Errorf("unknown renderer %q. Valid renderers include: http, chrome", c.Crawler.Renderer)
	}
	if c.PDF.MaxPDFs < 0 {
		return errors.New("pdf.maxPDFs must not be negative")
	}
	if c.PDF.Enabled {
		if c.PDF.MaxFileSize <= 0 || c.PDF.MaxTotalSize <= 0 || c.PDF.MaxPages <= 0 {
			return errors.New("pdf limits must be greater than zero")
		}
		if c.PDF.Attempts < 1 {
			return errors.New("pdf.attempts must be at least 1")
		}
	}
	for name, split := range map[string]Split{"web": c.Chunking.Web, "pdf": c.Chunking.PDF} {
		if split.Size <= 0 {
			return fmt.Errorf("chunking.%v.size must be greater than zero", name)
		}
		if split.Overlap < 0 || split.Overlap >= split.Size {
			return fmt.Errorf("chunking.%v.overlap must be in [0, size)", name)
		}
	}
	switch c.Chunking.Tokenizer {
	case "words", "cl100k_base":
	default:
		return fmt.Errorf("unknown tokenizer %q. Valid tokenizers include: words, cl100k_base", c.Chunking.Tokenizer)
	}
	if c.Chunking.MaxTokens <= 0 || c.Chunking.MaxDocumentChars <= 0 {
		return errors.New("chunking limits must be greater than zero")
	}
	switch c.Embeddings.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown embedding provider %q. Valid providers include: openai, gemini", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize <= 0 {
		return errors.New("embeddings.batchSize must be greater than zero")
	}
	if strings.TrimSpace(c.Index.Path) == "" {
		return errors.New("index.path is required")
	}
	if c.Refresh.Enabled && c.Refresh.Interval < time.Minute {
		return errors.New("refresh.interval must be at least one minute")
	}
	return nil
}
