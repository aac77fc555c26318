package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Backend class names accepted in backend definitions and the legacy
// gallery_storage settings.
const (
	ClassLocal  = "local"
	ClassS3     = "s3"
	ClassGCS    = "gcs"
	ClassAzure  = "azure"
	ClassSQLite = "sqlite"
	ClassMemory = "memory"
)

// Options are the class-specific settings of a backend definition.
type Options map[string]string

// String returns the option value or def when unset.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// Bool parses a boolean option. Unparseable values yield def.
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int64 parses an integer option. Unparseable values yield def.
func (o Options) Int64(key string, def int64) int64 {
	v, ok := o[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// merge returns a copy of o with defaults filled in for keys o lacks.
func (o Options) merge(defaults Options) Options {
	out := make(Options, len(o)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range o {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Factory builds a backend from its options.
type Factory func(ctx context.Context, opts Options) (Backend, error)

// DefaultClasses returns the factory table for all built-in backend classes.
func DefaultClasses() map[string]Factory {
	return map[string]Factory{
		ClassLocal:  newLocalFromOptions,
		ClassS3:     newS3FromOptions,
		ClassGCS:    newGCSFromOptions,
		ClassAzure:  newAzureFromOptions,
		ClassSQLite: newSQLiteFromOptions,
		ClassMemory: newMemoryFromOptions,
	}
}

// ClassNames returns the sorted class names of a factory table.
func ClassNames(classes map[string]Factory) []string {
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a backend of the named class.
func Build(ctx context.Context, classes map[string]Factory, class string, opts Options) (Backend, error) {
	f, ok := classes[strings.ToLower(strings.TrimSpace(class))]
	if !ok {
		return nil, fmt.Errorf("unknown storage class %q (known: %s)", class, strings.Join(ClassNames(classes), ", "))
	}
	return f(ctx, opts)
}

func newLocalFromOptions(_ context.Context, opts Options) (Backend, error) {
	root := opts.String("root_dir", "")
	if root == "" {
		return nil, fmt.Errorf("local storage requires root_dir")
	}
	return NewLocalBackend(root, opts.String("base_url", ""))
}

func newS3FromOptions(ctx context.Context, opts Options) (Backend, error) {
	return NewS3Backend(ctx, S3Options{
		Bucket:          opts.String("bucket", ""),
		Region:          opts.String("region", ""),
		Prefix:          opts.String("prefix", ""),
		EndpointURL:     opts.String("endpoint", ""),
		UsePathStyle:    opts.Bool("path_style", false),
		AccessKeyID:     opts.String("access_key_id", ""),
		SecretAccessKey: opts.String("secret_access_key", ""),
		PublicURL:       opts.String("public_url", ""),
	})
}

func newGCSFromOptions(ctx context.Context, opts Options) (Backend, error) {
	return NewGCSBackend(ctx,
		opts.String("bucket", ""),
		opts.String("project", ""),
		opts.String("prefix", ""),
		opts.String("public_url", ""),
	)
}

func newAzureFromOptions(ctx context.Context, opts Options) (Backend, error) {
	accountURL := opts.String("account_url", "")
	if accountURL == "" {
		if account := opts.String("account", ""); account != "" {
			accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", account)
		}
	}
	return NewAzureBackend(ctx, AzureOptions{
		Container:          opts.String("container", ""),
		AccountURL:         accountURL,
		ConnectionString:   opts.String("connection_string", ""),
		UseManagedIdentity: opts.Bool("managed_identity", false),
		Prefix:             opts.String("prefix", ""),
		PublicURL:          opts.String("public_url", ""),
	})
}

func newSQLiteFromOptions(_ context.Context, opts Options) (Backend, error) {
	p := opts.String("path", "")
	if p == "" {
		return nil, fmt.Errorf("sqlite storage requires path")
	}
	return NewSQLiteBackend(p, opts.String("base_url", ""))
}

func newMemoryFromOptions(_ context.Context, opts Options) (Backend, error) {
	return NewMemoryBackend(opts.String("base_url", ""), opts.Int64("max_size_bytes", 0)), nil
}
