package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type remoteOptions struct {
	URL   string
	Token string
}

func (r *remoteOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.URL, "url", "http://127.0.0.1:8080", "server base url")
	cmd.Flags().StringVar(&r.Token, "token", "", "admin token (required when not on loopback)")
}

func (r *remoteOptions) call(cmd *cobra.Command, method, path string, timeout time.Duration) error {
	u := strings.TrimRight(strings.TrimSpace(r.URL), "/") + path
	req, err := http.NewRequestWithContext(cmd.Context(), method, u, nil)
	if err != nil {
		return err
	}
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}

func newStateCmd(_ *rootOptions) *cobra.Command {
	var r remoteOptions
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the state of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.call(cmd, http.MethodGet, "/admin/v1/state", 5*time.Second)
		},
	}
	r.bind(cmd)
	return cmd
}

func newRemoteExportCmd(_ *rootOptions) *cobra.Command {
	var r remoteOptions
	cmd := &cobra.Command{
		Use:   "remote-export",
		Short: "Ask a running server to write a backup into its data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.call(cmd, http.MethodPost, "/admin/v1/export", 30*time.Second)
		},
	}
	r.bind(cmd)
	return cmd
}
