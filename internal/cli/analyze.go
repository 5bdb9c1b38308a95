package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

// Runner is the part of the run manager the analyze command drives.
type Runner interface {
	Submit(ctx context.Context, req models.AnalysisRequest) (*models.SubmitResponse, error)
	Subscribe(ctx context.Context, runID string) (<-chan models.ProgressEvent, error)
	Wait(ctx context.Context, runID string) (*models.RunView, error)
	Cancel(runID string) error
}

const cancelGrace = 2 * time.Minute

func newAnalyzeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [TICKER]",
		Short: "Run a full analysis for a ticker",
		Long: `Run the analyst team, the bull/bear debate, the trader and the risk debate
for one ticker and trading day. Without a ticker the command prompts for every option.

Example: tradingagents analyze NVDA --date 2024-05-10 --depth 3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := e.Engine(ctx)
			if err != nil {
				return err
			}
			provider, model := e.Defaults()
			req, err := requestFromFlags(cmd, args, provider, model)
			if err != nil {
				return err
			}
			if interactive, _ := cmd.Flags().GetBool("interactive"); interactive || len(args) == 0 {
				DisplayWelcomeBanner(cmd.OutOrStdout())
				ok, err := promptRequest(&req, eng.Providers.List())
				if err != nil {
					return err
				}
				if !ok {
					DisplayInfo(cmd.OutOrStdout(), "analysis aborted")
					return nil
				}
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			_, err = runAnalysis(ctx, cmd.OutOrStdout(), eng.Runner, req, asJSON)
			return err
		},
	}

	cmd.Flags().String("date", time.Now().Format("2006-01-02"), "Analysis date in YYYY-MM-DD format")
	cmd.Flags().StringSlice("analysts", consts.AnalystOrder, "Analysts to run: market, social, news, fundamentals")
	cmd.Flags().Int("depth", 1, "Research depth from 1 to 5")
	cmd.Flags().String("provider", "", "LLM provider (settings default when empty)")
	cmd.Flags().String("model", "", "LLM model (settings default when empty)")
	cmd.Flags().String("prompt", "", "Extra instructions for every agent")
	cmd.Flags().Bool("sentiment", true, "Include the social sentiment analyst")
	cmd.Flags().Bool("risk-assessment", true, "Include the risk assessment in the result")
	cmd.Flags().BoolP("interactive", "i", false, "Prompt for every option")
	cmd.Flags().Bool("json", false, "Print the final run as JSON")

	return cmd
}

func requestFromFlags(cmd *cobra.Command, args []string, defProvider, defModel string) (models.AnalysisRequest, error) {
	flags := cmd.Flags()
	date, _ := flags.GetString("date")
	analysts, _ := flags.GetStringSlice("analysts")
	depth, _ := flags.GetInt("depth")
	provider, _ := flags.GetString("provider")
	model, _ := flags.GetString("model")
	prompt, _ := flags.GetString("prompt")
	sentiment, _ := flags.GetBool("sentiment")
	risk, _ := flags.GetBool("risk-assessment")

	if provider == "" {
		provider = defProvider
		if model == "" {
			model = defModel
		}
	}
	req := models.AnalysisRequest{
		AnalysisDate:          date,
		Analysts:              analysts,
		ResearchDepth:         depth,
		LLMProvider:           provider,
		LLMModel:              model,
		IncludeSentiment:      sentiment,
		IncludeRiskAssessment: risk,
		CustomPrompt:          prompt,
	}
	if len(args) > 0 {
		req.Ticker = args[0]
	}
	return req.Normalize(), nil
}

func promptRequest(req *models.AnalysisRequest, providers []llm.Provider) (bool, error) {
	var err error
	if req.Ticker, err = PromptForTicker(); err != nil {
		return false, err
	}
	if req.AnalysisDate, err = PromptForAnalysisDate(); err != nil {
		return false, err
	}
	if req.Analysts, err = PromptForAnalysts(); err != nil {
		return false, err
	}
	if req.ResearchDepth, err = PromptForResearchDepth(); err != nil {
		return false, err
	}
	p, err := PromptForLLMProvider(providers, req.LLMProvider)
	if err != nil {
		return false, err
	}
	def := req.LLMModel
	if p.Name != req.LLMProvider {
		def = ""
	}
	req.LLMProvider = p.Name
	if req.LLMModel, err = PromptForModel(p, def); err != nil {
		return false, err
	}
	*req = req.Normalize()
	return PromptForConfirmation(*req)
}

// runAnalysis submits req, prints its progress stream and returns the final
// run. When ctx ends first the run is cancelled and awaited briefly.
func runAnalysis(ctx context.Context, w io.Writer, r Runner, req models.AnalysisRequest, asJSON bool) (*models.RunView, error) {
	resp, err := r.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !asJSON {
		DisplayAnalysisHeader(w, req.Normalize(), resp.RunID)
	}

	events, err := r.Subscribe(ctx, resp.RunID)
	if err != nil {
		return nil, err
	}
	for ev := range events {
		if !asJSON {
			fmt.Fprintln(w, renderEvent(ev))
		}
	}

	waitCtx := ctx
	if ctx.Err() != nil {
		_ = r.Cancel(resp.RunID)
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(context.Background(), cancelGrace)
		defer cancel()
	}
	view, err := r.Wait(waitCtx, resp.RunID)
	if err != nil {
		return nil, err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(view); err != nil {
			return view, err
		}
	}

	switch view.Status {
	case consts.State_Completed:
		if !asJSON {
			fmt.Fprintln(w, RenderDecision(view))
		}
		return view, nil
	case consts.State_Cancelled:
		return view, terrors.New(terrors.CodeCancelled, "analysis cancelled")
	}
	if view.Error != nil {
		return view, view.Error
	}
	return view, terrors.New(terrors.CodeInternal, "analysis ended with status "+view.Status)
}
