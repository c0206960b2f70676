package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/takutakahashi/portalgate/pkg/client"
)

var requestMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

func newRequestCmd(o *rootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send a signed request to the backend",
		Long: `Send a request signed with the stored access token. An expired access
token is renewed once with the refresh token and the request is resent.

Examples:
  portalgate request GET /users/me/
  portalgate request POST /courses/ --data '{"title": "Go"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			if !requestMethods[method] {
				return fmt.Errorf("unsupported method %q", args[0])
			}

			var in interface{}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return errors.New("--data must be valid JSON")
				}
				in = json.RawMessage(data)
			}

			rt, err := o.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			var out json.RawMessage
			err = rt.client.Do(cmd.Context(), method, args[1], in, &out)
			if errors.Is(err, client.ErrSessionExpired) {
				return fmt.Errorf("session expired, run portalgate login: %w", err)
			}
			if err != nil {
				return err
			}

			printf(cmd, "%s\n", prettyJSON(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	return cmd
}

func prettyJSON(raw []byte) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func newRouteCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "route PATH",
		Short: "Show what a portal path shows for the stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := o.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			if _, err := rt.controller.CheckSession(cmd.Context()); err != nil {
				rt.logger.Info("continuing without a session", "error", err)
			}

			d := rt.table.Resolve(args[0], rt.controller)
			printf(cmd, "%s %s\n", d.Action, d.Target)
			return nil
		},
	}
}
