package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/cachegate/auth"
)

func signCmd() *cobra.Command {
	var (
		method    string
		data      string
		region    string
		accessKey string
		secretKey string
		send      bool
	)

	cmd := &cobra.Command{
		Use:   "sign URL",
		Short: "Sign a request with SigV4",
		Long:  "Print the SigV4 headers for a request, or send it with --send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if accessKey == "" || secretKey == "" {
				return fmt.Errorf("access and secret keys are required (flags or CACHEGATE_ACCESS_KEY_ID / CACHEGATE_SECRET_ACCESS_KEY)")
			}
			body := []byte(data)
			req, err := http.NewRequestWithContext(cmd.Context(), method, args[0], bytes.NewReader(body))
			if err != nil {
				return err
			}
			if len(body) > 0 {
				req.Header.Set("Content-Type", "application/json")
			}
			provider := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
			if err := auth.SignRequest(cmd.Context(), req, body, provider, region, time.Now()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !send {
				names := make([]string, 0, len(req.Header))
				for name := range req.Header {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(out, "%s: %s\n", name, req.Header.Get(name))
				}
				return nil
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			fmt.Fprintln(cmd.ErrOrStderr(), resp.Status)
			_, err = io.Copy(out, resp.Body)
			return err
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodPost, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "Request body")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "Region in the credential scope")
	cmd.Flags().StringVar(&accessKey, "access-key", os.Getenv("CACHEGATE_ACCESS_KEY_ID"), "Access key ID")
	cmd.Flags().StringVar(&secretKey, "secret-key", os.Getenv("CACHEGATE_SECRET_ACCESS_KEY"), "Secret access key")
	cmd.Flags().BoolVar(&send, "send", false, "Send the signed request and print the response")
	return cmd
}
