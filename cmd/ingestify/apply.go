package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/graftio/ingestify/pkg/rpc"
	"github.com/graftio/ingestify/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a declarative resource file",
	Long: `Apply an ingestify resource from a YAML file.

Examples:
  # Register an extractor
  ingestify apply -f extractor.yaml

  # Create an extraction graph
  ingestify apply -f graph.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("addr", "127.0.0.1:8080", "Coordinator RPC address")
	_ = applyCmd.MarkFlagRequired("file")
}

// Resource is a generic ingestify resource: an apiVersion/kind envelope
// plus a kind-specific spec, dispatched by Kind.
type Resource struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Metadata   ResourceMeta   `yaml:"metadata"`
	Spec       map[string]any `yaml:"spec"`
}

type ResourceMeta struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	addr, _ := cmd.Flags().GetString("addr")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var resource Resource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	client, err := rpc.NewClient(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	defer client.Close()

	switch resource.Kind {
	case "ExtractionGraph":
		return applyExtractionGraph(client, &resource)
	case "Extractor":
		return applyExtractor(client, &resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyExtractionGraph(client *rpc.Client, r *Resource) error {
	graph := types.ExtractionGraph{
		ID:        types.PolicyID(r.Metadata.Namespace, r.Metadata.Name, "graph"),
		Namespace: r.Metadata.Namespace,
		Name:      r.Metadata.Name,
	}

	rawPolicies, _ := r.Spec["policies"].([]any)
	var policies []types.ExtractionPolicy
	for _, rp := range rawPolicies {
		pm, ok := rp.(map[string]any)
		if !ok {
			continue
		}
		name, _ := pm["name"].(string)
		extractor, _ := pm["extractor"].(string)
		contentSource, _ := pm["content_source"].(string)
		if contentSource == "" {
			contentSource = "ingestion"
		}
		policies = append(policies, types.ExtractionPolicy{
			ID:            types.PolicyID(r.Metadata.Namespace, r.Metadata.Name, name),
			Namespace:     r.Metadata.Namespace,
			Graph:         r.Metadata.Name,
			Name:          name,
			Extractor:     extractor,
			ContentSource: contentSource,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.CreateExtractionGraph(ctx, types.CreateExtractionGraphPayload{
		Graph:    graph,
		Policies: policies,
	}); err != nil {
		return err
	}
	fmt.Printf("extraction graph %q applied with %d polic(ies)\n", r.Metadata.Name, len(policies))
	return nil
}

func applyExtractor(client *rpc.Client, r *Resource) error {
	var mimeTypes []string
	if raw, ok := r.Spec["input_mime_types"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				mimeTypes = append(mimeTypes, s)
			}
		}
	}
	addr, _ := r.Spec["addr"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.RegisterExecutor(ctx, types.RegisterExecutorPayload{
		Addr:       addr,
		ExecutorID: r.Metadata.Name,
		Extractor: types.Extractor{
			Name:           r.Metadata.Name,
			InputMimeTypes: mimeTypes,
		},
		TsSecs: time.Now().Unix(),
	}); err != nil {
		return err
	}
	fmt.Printf("extractor %q applied\n", r.Metadata.Name)
	return nil
}
