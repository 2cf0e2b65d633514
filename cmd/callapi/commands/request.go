package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/fivetwenty-io/callapi/pkg/dispatcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type requestOptions struct {
	params     []string
	headers    []string
	data       string
	form       []string
	files      []string
	cookie     string
	revalidate time.Duration
	noExpiry   bool
	noStore    bool
	tags       []string
	failOnErr  bool
}

// NewRequestCommand creates the request command.
func NewRequestCommand() *cobra.Command {
	opts := &requestOptions{}

	cmd := &cobra.Command{
		Use:   "request METHOD ENDPOINT",
		Short: "Dispatch a request and print the envelope",
		Long: `Dispatch a request through the configured execution context and print
the normalized envelope.

In the client context the token is read from local storage; a 401 response
clears it. In the server context the token is taken from --cookie and GET
requests honor --revalidate and --tag.`,
		Example: `  callapi request GET /posts --param page=1
  callapi request POST /posts --data '{"title":"hello"}'
  callapi request POST /uploads --form name=report --file file=./report.pdf
  callapi request GET /posts --context server --cookie "$TOKEN" --tag posts`,
		Args: cobra.ExactArgs(constants.MinimumArgumentCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "query parameter key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, "request header key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "JSON body, or @file to read it from a file")
	cmd.Flags().StringArrayVar(&opts.form, "form", nil, "multipart field key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.files, "file", nil, "multipart file field=path (repeatable)")
	cmd.Flags().StringVar(&opts.cookie, "cookie", "", "server context: value of the token cookie on the inbound request")
	cmd.Flags().DurationVar(&opts.revalidate, "revalidate", 0, "server context: cache lifetime for GET responses")
	cmd.Flags().BoolVar(&opts.noExpiry, "no-revalidate", false, "server context: cache GET responses until their tag is revalidated")
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false, "server context: bypass the cache even when tags are given")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "server context: cache tag (repeatable)")
	cmd.Flags().BoolVar(&opts.failOnErr, "fail", false, "exit non-zero when the envelope reports failure")

	return cmd
}

func runRequest(cmd *cobra.Command, rawMethod, endpoint string, opts *requestOptions) error {
	method, err := callapi.ParseMethod(rawMethod)
	if err != nil {
		return err
	}

	s := loadSettings()

	ec, err := callapi.ParseExecutionContext(s.Context)
	if err != nil {
		return err
	}

	desc, err := opts.descriptor(method)
	if err != nil {
		return err
	}

	logger := newLogger()

	cfg, err := s.dispatcherConfig(ec, logger)
	if err != nil {
		return err
	}

	cfg.Navigator = callapi.NavigatorFunc(func(route string) {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Session expired. Run 'callapi login' (route %s).\n", route)
	})

	d, err := dispatcher.New(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if ec == callapi.ServerContext {
		ctx = dispatcher.WithRequest(ctx, inboundRequest(s.CookieName, opts.cookie))
	}

	env := d.Do(ctx, endpoint, desc, opts.directives())

	err = writeEnvelope(cmd.OutOrStdout(), viper.GetString("output"), env)
	if err != nil {
		return err
	}

	if opts.failOnErr {
		return env.Err()
	}

	return nil
}

func (o *requestOptions) descriptor(method callapi.Method) (*callapi.RequestDescriptor, error) {
	params, err := parseParams(o.params)
	if err != nil {
		return nil, err
	}

	headers, err := parseKeyValues(o.headers)
	if err != nil {
		return nil, err
	}

	desc := &callapi.RequestDescriptor{
		Method:  method,
		Params:  params,
		Headers: headers,
		Timeout: viper.GetDuration("timeout"),
	}

	if len(o.form) > 0 || len(o.files) > 0 {
		form, err := o.formData()
		if err != nil {
			return nil, err
		}

		desc.Body = form

		return desc, nil
	}

	body, err := parseBody(o.data)
	if err != nil {
		return nil, err
	}

	desc.Body = body

	return desc, nil
}

func (o *requestOptions) formData() (*callapi.FormData, error) {
	fields, err := parseKeyValues(o.form)
	if err != nil {
		return nil, err
	}

	form := callapi.NewFormData()
	for key, value := range fields {
		form.Add(key, value)
	}

	files, err := parseKeyValues(o.files)
	if err != nil {
		return nil, err
	}

	for field, path := range files {
		file, err := os.Open(path) // #nosec G304 -- path is supplied by the CLI user
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}

		err = form.AddFile(field, filepath.Base(path), "", file)
		_ = file.Close()

		if err != nil {
			return nil, err
		}
	}

	return form, nil
}

func (o *requestOptions) directives() *callapi.CacheDirectives {
	if o.revalidate <= 0 && !o.noExpiry && !o.noStore && len(o.tags) == 0 {
		return nil
	}

	return &callapi.CacheDirectives{
		Revalidate:   o.revalidate,
		NoRevalidate: o.noExpiry,
		Tags:         o.tags,
		NoStore:      o.noStore,
	}
}

// inboundRequest builds the request a server-side render would be handling,
// carrying the token cookie when one is given.
func inboundRequest(cookieName, token string) *http.Request {
	r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/", strings.NewReader(""))

	if token != "" {
		r.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	}

	return r
}
