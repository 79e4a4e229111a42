package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/swiftfleet/pkg/config"
	"github.com/cuemby/swiftfleet/pkg/deploy"
	"github.com/cuemby/swiftfleet/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// addFileFlag registers -f on a command that takes a request blob
func addFileFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", "Read the request from a YAML or JSON file instead of the argument")
}

// readRequest decodes the request of a lifecycle command. It comes either
// from the single JSON argument or from the file given with -f.
func readRequest(cmd *cobra.Command, args []string, v interface{}) error {
	file, _ := cmd.Flags().GetString("file")
	return decodeRequest(args, file, v)
}

func decodeRequest(args []string, file string, v interface{}) error {
	switch {
	case file != "" && len(args) > 0:
		return fmt.Errorf("%w: give the request either as an argument or with -f, not both", deploy.ErrUsage)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("%w: failed to read file: %v", deploy.ErrUsage, err)
		}
		if strings.EqualFold(filepath.Ext(file), ".json") {
			return decodeJSON(data, v)
		}
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: failed to parse YAML: %v", deploy.ErrUsage, err)
		}
		return nil
	case len(args) == 1:
		return decodeJSON([]byte(args[0]), v)
	default:
		return fmt.Errorf("%w: expected one JSON argument or -f FILE", deploy.ErrUsage)
	}
}

func decodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: failed to parse JSON: %v", deploy.ErrUsage, err)
	}
	return nil
}

// deviceSpec returns the request's device spec, or the configured one
func deviceSpec(p *config.Params, req *types.DeviceSpec) types.DeviceSpec {
	if req != nil {
		return *req
	}
	return types.DeviceSpec{Prefix: p.DevicePrx, Count: p.DeviceCnt}
}

// replicas returns the request's replica count, or the configured one
func replicas(p *config.Params, req int) int {
	if req > 0 {
		return req
	}
	return p.NumOfReplica
}
