package duckdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/txn2/mcp-lakejobs/pkg/objstore/s3"
	"github.com/txn2/mcp-lakejobs/pkg/store"
)

// bind makes store d readable from the session. Local stores need nothing;
// S3 stores get a scoped secret.
func (s *Session) bind(ctx context.Context, idx int, d store.Descriptor) error {
	switch d.Scheme() {
	case store.SchemeS3:
		cfg, err := s3.ConfigFromDescriptor(d)
		if err != nil {
			return fmt.Errorf("binding store %q: %w", d.Name, err)
		}
		if err := s.loadHTTPFS(ctx); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, s3Secret(fmt.Sprintf("lakejobs_store_%d", idx), cfg)); err != nil {
			return fmt.Errorf("binding store %q: creating secret: %w", d.Name, err)
		}
	case "http", "https":
		return s.loadHTTPFS(ctx)
	}
	return nil
}

func (s *Session) loadHTTPFS(ctx context.Context) error {
	if s.httpfs {
		return nil
	}
	for _, stmt := range []string{"INSTALL httpfs", "LOAD httpfs"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("loading httpfs: %w", err)
		}
	}
	s.httpfs = true
	return nil
}

// s3Secret renders a CREATE SECRET statement scoped to the store prefix.
func s3Secret(name string, cfg s3.Config) string {
	opts := []string{"TYPE s3"}
	add := func(key, val string) {
		if val != "" {
			opts = append(opts, key+" "+quoteLiteral(val))
		}
	}
	add("KEY_ID", cfg.AccessKeyID)
	add("SECRET", cfg.SecretKey)
	add("SESSION_TOKEN", cfg.SessionToken)
	add("REGION", cfg.Region)
	add("ENDPOINT", cfg.Endpoint)
	if cfg.PathStyle {
		add("URL_STYLE", "path")
	}
	opts = append(opts, fmt.Sprintf("USE_SSL %t", cfg.Secure))

	scope := "s3://" + cfg.Bucket
	if cfg.Prefix != "" {
		scope += "/" + strings.Trim(cfg.Prefix, "/")
	}
	add("SCOPE", scope)

	return fmt.Sprintf("CREATE SECRET %s (%s)", quoteIdent(name), strings.Join(opts, ", "))
}
