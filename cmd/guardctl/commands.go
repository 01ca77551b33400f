package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"TradeGuard/internal/domain/models"
	xhttp "TradeGuard/pkg/http"
)

var statusCmd = &cobra.Command{
	Use:   "status [guard]",
	Short: "Show the mode of every guard, or the detail of one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var forceCmd = &cobra.Command{
	Use:   "force <guard> <mode>",
	Short: "Force a guard into a mode (normal, degraded, panic, halt_entry)",
	Args:  cobra.ExactArgs(2),
	RunE:  runForce,
}

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List endpoint health scores",
	Args:  cobra.NoArgs,
	RunE:  runEndpoints,
}

var activateCmd = &cobra.Command{
	Use:   "activate <endpoint>",
	Short: "Record an operator switch to another endpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runActivate,
}

var forceReason string

func init() {
	forceCmd.Flags().StringVar(&forceReason, "reason", "operator", "Reason recorded with the forced directive")
	rootCmd.AddCommand(statusCmd, forceCmd, endpointsCmd, activateCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	if len(args) == 1 {
		var st models.GuardStatus
		err := client().Envelope(ctx, &xhttp.RequestOptions{Method: http.MethodGet, URL: "/api/guards/" + args[0]}, &st)
		if err != nil {
			return fail(err)
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), st)
		}
		printStatusDetail(cmd.OutOrStdout(), st)
		return nil
	}

	var all []models.GuardStatus
	if err := client().Envelope(ctx, &xhttp.RequestOptions{Method: http.MethodGet, URL: "/api/guards"}, &all); err != nil {
		return fail(err)
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), all)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GUARD\tMODE\tLABEL\tAGE\tREASONS")
	for _, st := range all {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Guard, st.Mode, st.Label, age(st.ModeAgeSeconds), strings.Join(st.ReasonCodes, ","))
	}
	return tw.Flush()
}

func runForce(cmd *cobra.Command, args []string) error {
	if _, err := models.ParseModeLevel(args[1]); err != nil {
		return fail(err)
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var d models.Directive
	err := client().Envelope(ctx, &xhttp.RequestOptions{
		Method: http.MethodPost,
		URL:    "/api/guards/" + args[0] + "/force",
		Body:   map[string]string{"mode": args[1], "reason": forceReason},
	}, &d)
	if err != nil {
		return fail(err)
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), d)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s) until %s\n", args[0], d.Mode, d.Label, d.ExpiresAt.Local().Format(time.RFC3339))
	return nil
}

func runEndpoints(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var eps []models.EndpointHealth
	if err := client().Envelope(ctx, &xhttp.RequestOptions{Method: http.MethodGet, URL: "/api/endpoints"}, &eps); err != nil {
		return fail(err)
	}
	return printEndpoints(cmd.OutOrStdout(), eps)
}

func runActivate(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var eps []models.EndpointHealth
	err := client().Envelope(ctx, &xhttp.RequestOptions{
		Method: http.MethodPost,
		URL:    "/api/endpoints/active",
		Body:   map[string]string{"endpoint": args[0]},
	}, &eps)
	if err != nil {
		return fail(err)
	}
	return printEndpoints(cmd.OutOrStdout(), eps)
}

func printEndpoints(w io.Writer, eps []models.EndpointHealth) error {
	if asJSON {
		return printJSON(w, eps)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tSCORE\tACTIVE\tUPDATED")
	for _, ep := range eps {
		updated := "-"
		if !ep.LastUpdatedAt.IsZero() {
			updated = ep.LastUpdatedAt.Local().Format(time.TimeOnly)
		}
		active := ""
		if ep.Active {
			active = "*"
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%s\t%s\n", ep.EndpointID, ep.Score, active, updated)
	}
	return tw.Flush()
}

func printStatusDetail(w io.Writer, st models.GuardStatus) {
	fmt.Fprintf(w, "guard:   %s\n", st.Guard)
	fmt.Fprintf(w, "mode:    %s (%s) for %s\n", st.Mode, st.Label, age(st.ModeAgeSeconds))
	if len(st.ReasonCodes) > 0 {
		fmt.Fprintf(w, "reasons: %s\n", strings.Join(st.ReasonCodes, ", "))
	}
	if len(st.ContextTags) > 0 {
		fmt.Fprintf(w, "context: %s\n", strings.Join(st.ContextTags, ", "))
	}
	if o := st.Override; o != nil {
		fmt.Fprintf(w, "override: %s from %s\n", o.Mode, o.Source)
	}
	if d := st.LastDirective; d != nil {
		fmt.Fprintf(w, "directive: %s expires %s\n", d.ID, d.ExpiresAt.Local().Format(time.RFC3339))
	}
	printMetrics(w, "metrics", st.SmoothedMetrics)
	printMetrics(w, "endpoints", st.EndpointScores)
}

func printMetrics(w io.Writer, title string, m map[string]float64) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-28s %.3f\n", k, m[k])
	}
}

func age(sec float64) string {
	return time.Duration(sec * float64(time.Second)).Round(time.Second).String()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
