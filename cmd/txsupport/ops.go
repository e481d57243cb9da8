package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofhir/fhir/r4"
	"github.com/spf13/cobra"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/support"
)

// OutputFormat specifies the output format.
type OutputFormat string

// Output format constants.
const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// errInvalid makes the command exit non-zero after its output is printed.
var errInvalid = errors.New("code is not valid")

func outputFlag(cmd *cobra.Command, out *string) {
	cmd.Flags().StringVarP(out, "output", "o", string(OutputText), "output format: text or json")
}

func outputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// withChain builds the chain, runs fn and releases the chain's resources.
func (a *app) withChain(ctx context.Context, fn func(*support.Chain) error) error {
	rt, err := buildChain(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt.chain)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printIssues(w io.Writer, issues []vs.Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintln(w, "Issues:")
	for _, iss := range issues {
		location := ""
		if len(iss.Expression) > 0 {
			location = " @ " + strings.Join(iss.Expression, ", ")
		}
		fmt.Fprintf(w, "  %s [%s] %s%s\n", strings.ToUpper(string(iss.Severity)), iss.Code, iss.Diagnostics, location)
	}
}

func newLookupCmd(a *app) *cobra.Command {
	var output, language string
	var properties []string
	cmd := &cobra.Command{
		Use:   "lookup <system> <code>",
		Short: "Look up a code in a code system",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(output)
			if err != nil {
				return err
			}
			return a.withChain(cmd.Context(), func(chain *support.Chain) error {
				res, err := chain.LookupCode(cmd.Context(), support.LookupCodeRequest{
					System:          args[0],
					Code:            args[1],
					DisplayLanguage: language,
					PropertyNames:   properties,
				})
				if err != nil {
					return err
				}
				if err := res.ThrowNotFoundIfAppropriate(); err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if format == OutputJSON {
					params, err := res.ToParameters(chain.FhirContext(), properties)
					if err != nil {
						return err
					}
					return printJSON(w, params)
				}
				fmt.Fprintf(w, "%s#%s\n", res.SearchedForSystem, res.SearchedForCode)
				fmt.Fprintf(w, "Display: %s\n", res.CodeDisplay)
				if res.CodeSystemDisplayName != "" {
					fmt.Fprintf(w, "System: %s\n", res.CodeSystemDisplayName)
				}
				if res.CodeSystemVersion != "" {
					fmt.Fprintf(w, "Version: %s\n", res.CodeSystemVersion)
				}
				if res.CodeIsAbstract {
					fmt.Fprintln(w, "Abstract: true")
				}
				return nil
			})
		},
	}
	outputFlag(cmd, &output)
	cmd.Flags().StringVar(&language, "language", "", "display language")
	cmd.Flags().StringSliceVar(&properties, "property", nil, "property to return (repeatable)")
	return cmd
}

func newValidateCodeCmd(a *app) *cobra.Command {
	var output, system, display, valueSet string
	var validateDisplay bool
	cmd := &cobra.Command{
		Use:   "validate-code <code>",
		Short: "Validate a code against a code system or value set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(output)
			if err != nil {
				return err
			}
			if system == "" && valueSet == "" {
				return fmt.Errorf("--system or --valueset is required")
			}
			return a.withChain(cmd.Context(), func(chain *support.Chain) error {
				opts := support.ConceptValidationOptions{
					ValidateDisplay: validateDisplay,
					InferSystem:     system == "",
				}
				res, err := chain.ValidateCode(cmd.Context(), opts, system, args[0], display, valueSet)
				if err != nil {
					return err
				}
				if res == nil {
					res = &support.CodeValidationResult{
						Message:  fmt.Sprintf("Unable to validate code %s#%s", system, args[0]),
						Severity: support.SeverityError,
					}
					res.AddIssue(support.NewCodeValidationIssue(res.Message, support.SeverityError, support.IssueCodeNotFound, support.IssueCodingNotFound))
				}

				w := cmd.OutOrStdout()
				if format == OutputJSON {
					if err := printJSON(w, res.ToParameters(chain.FhirContext())); err != nil {
						return err
					}
				} else {
					status := "VALID"
					if !res.IsOK() {
						status = "INVALID"
					}
					fmt.Fprintf(w, "Status: %s\n", status)
					if res.Display != "" {
						fmt.Fprintf(w, "Display: %s\n", res.Display)
					}
					if res.Message != "" {
						fmt.Fprintf(w, "Message: %s\n", res.Message)
					}
					printIssues(w, res.OutcomeIssues(""))
				}
				if !res.IsOK() {
					return errInvalid
				}
				return nil
			})
		},
	}
	outputFlag(cmd, &output)
	cmd.Flags().StringVar(&system, "system", "", "code system URL")
	cmd.Flags().StringVar(&display, "display", "", "display to check")
	cmd.Flags().StringVar(&valueSet, "valueset", "", "value set URL")
	cmd.Flags().BoolVar(&validateDisplay, "validate-display", false, "fail when the display does not match")
	return cmd
}

func newExpandCmd(a *app) *cobra.Command {
	var output, filter, language string
	var offset, count int
	cmd := &cobra.Command{
		Use:   "expand <valueset-url>",
		Short: "Expand a value set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(output)
			if err != nil {
				return err
			}
			return a.withChain(cmd.Context(), func(chain *support.Chain) error {
				opts := support.DefaultExpansionOptions()
				opts.Offset = offset
				opts.Count = count
				opts.Filter = filter
				opts.DisplayLanguage = language
				outcome, err := chain.ExpandValueSetByURL(cmd.Context(), opts, args[0])
				if err != nil {
					return err
				}
				if outcome == nil {
					return fmt.Errorf("no module can expand %s", args[0])
				}
				if !outcome.IsSuccess() {
					return fmt.Errorf("expand %s: %s", args[0], outcome.ErrorMessage())
				}

				w := cmd.OutOrStdout()
				if format == OutputJSON {
					return printJSON(w, valueSetDoc(outcome.ValueSet()))
				}
				if outcome.ValueSet().Expansion != nil {
					printContains(w, outcome.ValueSet().Expansion.Contains, "")
				}
				return nil
			})
		},
	}
	outputFlag(cmd, &output)
	cmd.Flags().IntVar(&offset, "offset", 0, "index of the first code returned")
	cmd.Flags().IntVar(&count, "count", 1000, "maximum number of codes returned")
	cmd.Flags().StringVar(&filter, "filter", "", "text filter on code and display")
	cmd.Flags().StringVar(&language, "language", "", "display language")
	return cmd
}

func printContains(w io.Writer, contains []r4.ValueSetExpansionContains, indent string) {
	for i := range contains {
		c := &contains[i]
		line := indent + deref(c.System) + "#" + deref(c.Code)
		if d := deref(c.Display); d != "" {
			line += "  " + d
		}
		fmt.Fprintln(w, line)
		printContains(w, c.Contains, indent+"  ")
	}
}

// valueSetDoc adds the resourceType member the generated struct omits.
func valueSetDoc(valueSet *r4.ValueSet) any {
	data, err := json.Marshal(valueSet)
	if err != nil {
		return valueSet
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return valueSet
	}
	doc["resourceType"] = "ValueSet"
	return doc
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func newTranslateCmd(a *app) *cobra.Command {
	var output, target, conceptMap string
	var reverse bool
	cmd := &cobra.Command{
		Use:   "translate <system> <code>",
		Short: "Translate a code through the loaded concept maps",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(output)
			if err != nil {
				return err
			}
			return a.withChain(cmd.Context(), func(chain *support.Chain) error {
				var opts []support.TranslateOption
				if conceptMap != "" {
					opts = append(opts, support.WithConceptMap(conceptMap, ""))
				}
				if reverse {
					opts = append(opts, support.WithReverse(true))
				}
				req := support.NewTranslateCodeRequest([]support.Coding{{System: args[0], Code: args[1]}}, target, opts...)
				res, err := chain.TranslateConcept(cmd.Context(), req)
				if err != nil {
					return err
				}
				if res == nil {
					res = &support.TranslateConceptResults{Message: "No ConceptMap is available for this translation"}
				}

				w := cmd.OutOrStdout()
				if format == OutputJSON {
					return printJSON(w, res.ToParameters())
				}
				if res.Message != "" {
					fmt.Fprintln(w, res.Message)
				}
				for _, m := range res.Results {
					fmt.Fprintf(w, "%s %s#%s", m.Equivalence, m.System, m.Code)
					if m.Display != "" {
						fmt.Fprintf(w, "  %s", m.Display)
					}
					fmt.Fprintln(w)
				}
				return nil
			})
		},
	}
	outputFlag(cmd, &output)
	cmd.Flags().StringVar(&target, "target-system", "", "target code system URL")
	cmd.Flags().StringVar(&conceptMap, "conceptmap", "", "ConceptMap URL")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "translate from target to source")
	return cmd
}
