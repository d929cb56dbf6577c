package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"batchrest/internal/adapter"
	"batchrest/internal/batcher"
	"batchrest/internal/config"
	"batchrest/internal/jsoncodec"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Backend      string
	BackendURL   string
	URLs         []string
	Method       string
	Data         string
	DisableBatch bool
	MaxWait      int // ms, overrides the backend's batching.maxWait
	Format       string
	Timeout      time.Duration
}

// callOutput is one line of call output
type callOutput struct {
	URL        string          `json:"url"`
	Status     int             `json:"status,omitempty"`
	StatusText string          `json:"statusText,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Fire calls concurrently through the batching engine",
		Long: `Fire every --url at once through one backend's batching engine and
print each call's result in the order given. Calls that arrive within the
batching window travel in one batch-rest envelope.

Examples:
  batchrest call --config config.yaml --backend main --url post/1 --url post/2
  batchrest call --backend-url https://api.example.com --url user/me --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalls(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.Backend, "backend", "b", "", "backend name from the config (default: first backend)")
	cmd.Flags().StringVar(&opts.BackendURL, "backend-url", "", "backend base URL, used instead of a config file")
	cmd.Flags().StringArrayVarP(&opts.URLs, "url", "u", nil, "path relative to the backend, repeatable")
	cmd.Flags().StringVarP(&opts.Method, "method", "X", http.MethodGet, "HTTP method for every call")
	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "JSON body or query object for every call")
	cmd.Flags().BoolVar(&opts.DisableBatch, "disable-batch", false, "send every call on its own")
	cmd.Flags().IntVar(&opts.MaxWait, "max-wait", 0, "batching window in ms (default: from config)")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall timeout")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func loadCallConfig(opts *CallOptions) (*config.Config, *config.BackendConfig, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.BackendURL != "":
		cfg, err = config.ForBackend("default", opts.BackendURL)
	case opts.ConfigPath != "":
		cfg, err = config.Load(opts.ConfigPath)
	default:
		return nil, nil, fmt.Errorf("either --config or --backend-url is required")
	}
	if err != nil {
		return nil, nil, err
	}

	if opts.Backend == "" || opts.BackendURL != "" {
		return cfg, &cfg.Backends[0], nil
	}
	bc, ok := cfg.Backend(opts.Backend)
	if !ok {
		return nil, nil, fmt.Errorf("backend %q not found in config", opts.Backend)
	}
	return cfg, bc, nil
}

func runCalls(ctx context.Context, opts *CallOptions, out, errOut io.Writer) error {
	if opts.Format != "json" && opts.Format != "text" {
		return fmt.Errorf("invalid format %q: must be json or text", opts.Format)
	}
	var data json.RawMessage
	if opts.Data != "" {
		if !json.Valid([]byte(opts.Data)) {
			return fmt.Errorf("invalid --data JSON")
		}
		data = json.RawMessage(opts.Data)
	}

	cfg, bc, err := loadCallConfig(opts)
	if err != nil {
		return err
	}
	if opts.MaxWait > 0 {
		bc.Batching.MaxWait = opts.MaxWait
	}

	logger := setupLogger(pickLevel(opts.LogLevel, "warn"), errOut)
	a, err := adapter.NewFromConfig(*bc, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	outputs := make([]callOutput, len(opts.URLs))
	var g errgroup.Group
	for i, u := range opts.URLs {
		g.Go(func() error {
			res, err := a.Request(ctx, batcher.Call{
				URL:          a.ResolveURL(u),
				Method:       opts.Method,
				Data:         data,
				DisableBatch: opts.DisableBatch,
			})
			outputs[i] = newCallOutput(u, res, err)
			if err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
			return nil
		})
	}
	callErr := g.Wait()

	failed := 0
	for _, o := range outputs {
		if o.Error != "" {
			failed++
		}
		if err := writeOutput(out, opts.Format, opts.Method, o); err != nil {
			return err
		}
	}

	if callErr != nil {
		return fmt.Errorf("%d of %d calls failed: %w", failed, len(outputs), callErr)
	}
	return nil
}

func newCallOutput(u string, res *batcher.Result, err error) callOutput {
	o := callOutput{URL: u}
	if err != nil {
		o.Error = err.Error()
	}
	if res == nil || res.Response == nil {
		return o
	}
	o.Status = res.Response.StatusCode
	o.StatusText = res.Response.Text()
	if len(res.Response.Body) > 0 {
		if json.Valid(res.Response.Body) {
			o.Body = res.Response.Body
		} else {
			o.Body, _ = jsoncodec.Marshal(string(res.Response.Body))
		}
	}
	return o
}

func writeOutput(w io.Writer, format, method string, o callOutput) error {
	if format == "json" {
		return jsoncodec.Encode(w, o)
	}

	if o.Status == 0 {
		_, err := fmt.Fprintf(w, "%s %s: %s\n", method, o.URL, o.Error)
		return err
	}
	if _, err := fmt.Fprintf(w, "%s %s %d %s\n", method, o.URL, o.Status, o.StatusText); err != nil {
		return err
	}
	if len(o.Body) > 0 {
		if _, err := fmt.Fprintf(w, "%s\n", o.Body); err != nil {
			return err
		}
	}
	return nil
}
