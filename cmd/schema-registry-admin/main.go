// Package main is the entry point for the schema registry admin CLI.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	serverURL string
	output    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "schema-registry-admin",
		Short: "Admin CLI for the Kafka Schema Registry",
		Long:  `A command-line tool for managing subjects, compatibility, modes and migrations in the schema registry.`,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8081", "Schema Registry server URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")

	// Subject commands
	subjectCmd := &cobra.Command{
		Use:   "subject",
		Short: "Manage subjects",
	}

	subjectListCmd := &cobra.Command{
		Use:   "list",
		Short: "List subjects",
		RunE:  listSubjects,
	}
	subjectListCmd.Flags().Bool("deleted", false, "Include soft-deleted subjects")
	subjectListCmd.Flags().String("prefix", "", "Subject prefix filter (use \":*:\" for every context)")

	subjectVersionsCmd := &cobra.Command{
		Use:   "versions <subject>",
		Short: "List versions of a subject",
		Args:  cobra.ExactArgs(1),
		RunE:  listVersions,
	}
	subjectVersionsCmd.Flags().Bool("deleted", false, "Include soft-deleted versions")

	subjectDeleteCmd := &cobra.Command{
		Use:   "delete <subject>",
		Short: "Delete a subject (soft by default)",
		Args:  cobra.ExactArgs(1),
		RunE:  deleteSubject,
	}
	subjectDeleteCmd.Flags().Bool("permanent", false, "Hard delete (requires a prior soft delete)")

	subjectCmd.AddCommand(subjectListCmd, subjectVersionsCmd, subjectDeleteCmd)

	// Schema commands
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and register schemas",
	}

	schemaGetCmd := &cobra.Command{
		Use:   "get <subject> [version]",
		Short: "Show one version of a subject (default latest)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  getSchema,
	}

	schemaRegisterCmd := &cobra.Command{
		Use:   "register <subject>",
		Short: "Register a schema under a subject",
		Args:  cobra.ExactArgs(1),
		RunE:  registerSchema,
	}
	schemaRegisterCmd.Flags().String("file", "", "Path to the schema file (required)")
	schemaRegisterCmd.Flags().String("type", "AVRO", "Schema type: AVRO, JSON, PROTOBUF")
	schemaRegisterCmd.Flags().Bool("normalize", false, "Normalize the schema before registration")
	_ = schemaRegisterCmd.MarkFlagRequired("file")

	schemaCmd.AddCommand(schemaGetCmd, schemaRegisterCmd)

	// Config commands
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage compatibility configuration",
	}

	configGetCmd := &cobra.Command{
		Use:   "get [subject]",
		Short: "Show the global or a subject's compatibility config",
		Args:  cobra.MaximumNArgs(1),
		RunE:  getConfig,
	}

	configSetCmd := &cobra.Command{
		Use:   "set [subject]",
		Short: "Set the global or a subject's compatibility level",
		Args:  cobra.MaximumNArgs(1),
		RunE:  setConfig,
	}
	configSetCmd.Flags().String("level", "", "Compatibility level: NONE, BACKWARD, FORWARD, FULL and *_TRANSITIVE (required)")
	_ = configSetCmd.MarkFlagRequired("level")

	configDeleteCmd := &cobra.Command{
		Use:   "delete [subject]",
		Short: "Delete the global or a subject's compatibility config",
		Args:  cobra.MaximumNArgs(1),
		RunE:  deleteConfig,
	}

	configCmd.AddCommand(configGetCmd, configSetCmd, configDeleteCmd)

	// Mode commands
	modeCmd := &cobra.Command{
		Use:   "mode",
		Short: "Manage registry mode",
	}

	modeGetCmd := &cobra.Command{
		Use:   "get [subject]",
		Short: "Show the global or a subject's mode",
		Args:  cobra.MaximumNArgs(1),
		RunE:  getMode,
	}

	modeSetCmd := &cobra.Command{
		Use:   "set <mode> [subject]",
		Short: "Set the global or a subject's mode",
		Long:  `Set the registry mode. Valid modes are READWRITE, READONLY, READONLY_OVERRIDE and IMPORT.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE:  setMode,
	}
	modeSetCmd.Flags().Bool("force", false, "Enter IMPORT mode even when subjects exist")

	modeDeleteCmd := &cobra.Command{
		Use:   "delete <subject>",
		Short: "Delete a subject's mode override",
		Args:  cobra.ExactArgs(1),
		RunE:  deleteMode,
	}

	modeCmd.AddCommand(modeGetCmd, modeSetCmd, modeDeleteCmd)

	// Export / import for migrations
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export every subject version as JSON for migration",
		Long: `Export all live schema versions, ids included, as a JSON array on stdout.

The output can be replayed into another registry with "import", which uses
IMPORT mode to preserve the original ids and version numbers.`,
		RunE: exportSchemas,
	}
	exportCmd.Flags().String("prefix", "", "Subject prefix filter")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import schemas exported from another registry",
		Long: `Import a JSON export, preserving schema ids and version numbers.

Each subject is switched to IMPORT mode for the duration of its restore and
switched back afterwards. The target subjects must be empty.`,
		Args: cobra.ExactArgs(1),
		RunE: importSchemas,
	}

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("schema-registry-admin %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}

	rootCmd.AddCommand(subjectCmd, schemaCmd, configCmd, modeCmd, exportCmd, importCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// doRequest performs one API call and decodes the response into out.
func doRequest(method, path string, body, out interface{}) error {
	u := strings.TrimSuffix(serverURL, "/") + path

	var req *http.Request
	var err error

	if body != nil {
		jsonBody, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("failed to marshal request: %w", merr)
		}
		req, err = http.NewRequest(method, u, strings.NewReader(string(jsonBody)))
	} else {
		req, err = http.NewRequest(method, u, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req) // #nosec G704 -- admin CLI tool; URL is from user-provided --server flag
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			ErrorCode int    `json:"error_code"`
			Message   string `json:"message"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d/%d): %s", resp.StatusCode, apiErr.ErrorCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d)", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// subjectVersion mirrors the registry's version response.
type subjectVersion struct {
	Subject    string          `json:"subject"`
	ID         int             `json:"id"`
	Version    int             `json:"version"`
	SchemaType string          `json:"schemaType,omitempty"`
	Schema     string          `json:"schema"`
	References json.RawMessage `json:"references,omitempty"`
}

func listSubjects(cmd *cobra.Command, args []string) error {
	deleted, _ := cmd.Flags().GetBool("deleted")
	prefix, _ := cmd.Flags().GetString("prefix")

	q := url.Values{}
	if deleted {
		q.Set("deleted", "true")
	}
	if prefix != "" {
		q.Set("subjectPrefix", prefix)
	}
	path := "/subjects"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var subjects []string
	if err := doRequest("GET", path, nil, &subjects); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(subjects)
	}
	for _, s := range subjects {
		fmt.Println(s)
	}
	return nil
}

func listVersions(cmd *cobra.Command, args []string) error {
	deleted, _ := cmd.Flags().GetBool("deleted")
	path := "/subjects/" + url.PathEscape(args[0]) + "/versions"
	if deleted {
		path += "?deleted=true"
	}

	var versions []int
	if err := doRequest("GET", path, nil, &versions); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(versions)
	}
	for _, v := range versions {
		fmt.Println(v)
	}
	return nil
}

func deleteSubject(cmd *cobra.Command, args []string) error {
	permanent, _ := cmd.Flags().GetBool("permanent")
	path := "/subjects/" + url.PathEscape(args[0])
	if permanent {
		path += "?permanent=true"
	}

	var versions []int
	if err := doRequest("DELETE", path, nil, &versions); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(versions)
	}
	fmt.Printf("Deleted versions %v of subject %s\n", versions, args[0])
	return nil
}

func getSchema(cmd *cobra.Command, args []string) error {
	versionSpec := "latest"
	if len(args) == 2 {
		versionSpec = args[1]
	}

	var sv subjectVersion
	path := "/subjects/" + url.PathEscape(args[0]) + "/versions/" + url.PathEscape(versionSpec)
	if err := doRequest("GET", path, nil, &sv); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(sv)
	}
	fmt.Printf("Subject: %s\n", sv.Subject)
	fmt.Printf("Version: %d\n", sv.Version)
	fmt.Printf("ID:      %d\n", sv.ID)
	fmt.Printf("Type:    %s\n", sv.SchemaType)
	fmt.Printf("Schema:  %s\n", sv.Schema)
	return nil
}

func registerSchema(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	schemaType, _ := cmd.Flags().GetString("type")
	normalize, _ := cmd.Flags().GetBool("normalize")

	// #nosec G304 -- path is from command-line argument, user-controlled input is expected
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	path := "/subjects/" + url.PathEscape(args[0]) + "/versions"
	if normalize {
		path += "?normalize=true"
	}

	body := map[string]interface{}{
		"schema":     string(data),
		"schemaType": strings.ToUpper(schemaType),
	}
	var resp struct {
		ID int `json:"id"`
	}
	if err := doRequest("POST", path, body, &resp); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(resp)
	}
	fmt.Printf("Registered schema id %d under subject %s\n", resp.ID, args[0])
	return nil
}

func configPath(args []string) string {
	if len(args) == 1 {
		return "/config/" + url.PathEscape(args[0])
	}
	return "/config"
}

func getConfig(cmd *cobra.Command, args []string) error {
	var cfg map[string]interface{}
	if err := doRequest("GET", configPath(args), nil, &cfg); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(cfg)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for k, v := range cfg {
		fmt.Fprintf(w, "%s\t%v\n", k, v)
	}
	return w.Flush()
}

func setConfig(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("level")

	body := map[string]string{"compatibility": strings.ToUpper(level)}
	var resp map[string]interface{}
	if err := doRequest("PUT", configPath(args), body, &resp); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(resp)
	}
	fmt.Printf("Compatibility set to %v\n", resp["compatibility"])
	return nil
}

func deleteConfig(cmd *cobra.Command, args []string) error {
	var resp map[string]interface{}
	if err := doRequest("DELETE", configPath(args), nil, &resp); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(resp)
	}
	fmt.Printf("Config deleted, was %v\n", resp["compatibilityLevel"])
	return nil
}

func modePath(subject string) string {
	if subject != "" {
		return "/mode/" + url.PathEscape(subject)
	}
	return "/mode"
}

func getMode(cmd *cobra.Command, args []string) error {
	subject := ""
	if len(args) == 1 {
		subject = args[0]
	}

	var resp map[string]string
	if err := doRequest("GET", modePath(subject), nil, &resp); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(resp)
	}
	fmt.Println(resp["mode"])
	return nil
}

func setMode(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	subject := ""
	if len(args) == 2 {
		subject = args[1]
	}

	path := modePath(subject)
	if force {
		path += "?force=true"
	}

	body := map[string]string{"mode": strings.ToUpper(args[0])}
	var resp map[string]string
	if err := doRequest("PUT", path, body, &resp); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(resp)
	}
	fmt.Printf("Mode set to %s\n", resp["mode"])
	return nil
}

func deleteMode(cmd *cobra.Command, args []string) error {
	var resp map[string]string
	if err := doRequest("DELETE", modePath(args[0]), nil, &resp); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(resp)
	}
	fmt.Printf("Mode override deleted, was %s\n", resp["mode"])
	return nil
}

func exportSchemas(cmd *cobra.Command, args []string) error {
	prefix, _ := cmd.Flags().GetString("prefix")

	path := "/subjects"
	if prefix != "" {
		path += "?subjectPrefix=" + url.QueryEscape(prefix)
	}
	var subjects []string
	if err := doRequest("GET", path, nil, &subjects); err != nil {
		return err
	}

	var export []subjectVersion
	for _, subj := range subjects {
		var versions []int
		if err := doRequest("GET", "/subjects/"+url.PathEscape(subj)+"/versions", nil, &versions); err != nil {
			return err
		}
		for _, v := range versions {
			var sv subjectVersion
			if err := doRequest("GET", fmt.Sprintf("/subjects/%s/versions/%d", url.PathEscape(subj), v), nil, &sv); err != nil {
				return err
			}
			export = append(export, sv)
		}
	}

	return printJSON(export)
}

func importSchemas(cmd *cobra.Command, args []string) error {
	// #nosec G304 -- path is from command-line argument, user-controlled input is expected
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read export file: %w", err)
	}

	var export []subjectVersion
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("failed to parse export file: %w", err)
	}

	// Group by subject so each subject flips to IMPORT mode exactly once.
	bySubject := make(map[string][]subjectVersion)
	var order []string
	for _, sv := range export {
		if _, seen := bySubject[sv.Subject]; !seen {
			order = append(order, sv.Subject)
		}
		bySubject[sv.Subject] = append(bySubject[sv.Subject], sv)
	}

	for _, subj := range order {
		if err := doRequest("PUT", modePath(subj), map[string]string{"mode": "IMPORT"}, nil); err != nil {
			return fmt.Errorf("subject %s: %w", subj, err)
		}

		for _, sv := range bySubject[subj] {
			body := map[string]interface{}{
				"schema":     sv.Schema,
				"schemaType": sv.SchemaType,
				"id":         sv.ID,
				"version":    sv.Version,
			}
			if len(sv.References) > 0 {
				body["references"] = sv.References
			}
			path := "/subjects/" + url.PathEscape(subj) + "/versions"
			if err := doRequest("POST", path, body, nil); err != nil {
				return fmt.Errorf("subject %s version %d: %w", subj, sv.Version, err)
			}
		}

		if err := doRequest("DELETE", modePath(subj), nil, nil); err != nil {
			return fmt.Errorf("subject %s: restore mode: %w", subj, err)
		}
		fmt.Printf("Imported %d versions into %s\n", len(bySubject[subj]), subj)
	}

	return nil
}
