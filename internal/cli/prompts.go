package cli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/models"
)

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

var analystLabels = map[string]string{
	consts.AnalystMarket:       "Market Analyst",
	consts.AnalystSocial:       "Social Media Analyst",
	consts.AnalystNews:         "News Analyst",
	consts.AnalystFundamentals: "Fundamentals Analyst",
}

var depthLabels = []string{
	"1 - Shallow: one debate round",
	"2 - Light",
	"3 - Medium",
	"4 - Thorough: two debate rounds",
	"5 - Deep: three debate rounds",
}

func validateTicker(val interface{}) error {
	str := strings.TrimSpace(strings.ToUpper(fmt.Sprint(val)))
	if str == "" {
		return fmt.Errorf("ticker symbol cannot be empty")
	}
	if !tickerPattern.MatchString(str) {
		return fmt.Errorf("ticker must be 1-5 letters")
	}
	return nil
}

func validateDate(now func() time.Time) survey.Validator {
	return func(val interface{}) error {
		str := strings.TrimSpace(fmt.Sprint(val))
		d, err := time.Parse("2006-01-02", str)
		if err != nil {
			return fmt.Errorf("invalid date format, use YYYY-MM-DD")
		}
		if d.After(now()) {
			return fmt.Errorf("analysis date cannot be in the future")
		}
		return nil
	}
}

// PromptForTicker prompts the user to enter a stock ticker symbol
func PromptForTicker() (string, error) {
	var ticker string
	prompt := &survey.Input{
		Message: "Enter the stock ticker symbol (e.g., AAPL, MSFT, NVDA):",
		Help:    "US equity ticker, 1-5 letters",
	}
	if err := survey.AskOne(prompt, &ticker, survey.WithValidator(validateTicker)); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ToUpper(ticker)), nil
}

// PromptForAnalysisDate prompts for a YYYY-MM-DD date no later than today.
func PromptForAnalysisDate() (string, error) {
	var date string
	prompt := &survey.Input{
		Message: "Enter the analysis date (YYYY-MM-DD):",
		Default: time.Now().Format("2006-01-02"),
	}
	if err := survey.AskOne(prompt, &date, survey.WithValidator(validateDate(time.Now))); err != nil {
		return "", err
	}
	return strings.TrimSpace(date), nil
}

// PromptForAnalysts prompts the user to select analyst team members
func PromptForAnalysts() ([]string, error) {
	options := make([]string, 0, len(consts.AnalystOrder))
	for _, a := range consts.AnalystOrder {
		options = append(options, analystLabels[a])
	}

	var selected []string
	prompt := &survey.MultiSelect{
		Message: "Select analyst team members:",
		Options: options,
		Help:    "Use space to select, enter to confirm.",
		Default: options,
	}
	if err := survey.AskOne(prompt, &selected, survey.WithValidator(survey.MinItems(1))); err != nil {
		return nil, err
	}
	return analystsFromLabels(selected), nil
}

func analystsFromLabels(labels []string) []string {
	var out []string
	for _, label := range labels {
		for id, l := range analystLabels {
			if l == label {
				out = append(out, id)
			}
		}
	}
	return out
}

// PromptForResearchDepth prompts the user to select research depth
func PromptForResearchDepth() (int, error) {
	var selected string
	prompt := &survey.Select{
		Message: "Select research depth:",
		Options: depthLabels,
		Help:    "Deeper runs hold more debate rounds and take longer.",
		Default: depthLabels[0],
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return 0, err
	}
	return depthFromLabel(selected), nil
}

func depthFromLabel(label string) int {
	n, err := strconv.Atoi(strings.SplitN(label, " ", 2)[0])
	if err != nil || n < 1 || n > 5 {
		return 1
	}
	return n
}

// PromptForLLMProvider prompts the user to select an LLM provider
func PromptForLLMProvider(providers []llm.Provider, def string) (llm.Provider, error) {
	if len(providers) == 0 {
		return llm.Provider{}, fmt.Errorf("no providers configured")
	}
	options := make([]string, 0, len(providers))
	defOption := ""
	for _, p := range providers {
		opt := p.Name + " - " + p.DisplayName
		options = append(options, opt)
		if p.Name == def {
			defOption = opt
		}
	}
	if defOption == "" {
		defOption = options[0]
	}

	var selected string
	prompt := &survey.Select{
		Message: "Select LLM provider:",
		Options: options,
		Help:    "The provider's API key must be exported in the environment.",
		Default: defOption,
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return llm.Provider{}, err
	}
	name := strings.Split(selected, " -")[0]
	for _, p := range providers {
		if p.Name == name {
			return p, nil
		}
	}
	return providers[0], nil
}

// PromptForModel prompts for one of the provider's catalogued models.
func PromptForModel(p llm.Provider, def string) (string, error) {
	if len(p.Models) == 0 {
		var name string
		err := survey.AskOne(&survey.Input{Message: "Model name:", Default: p.DefaultModel}, &name, survey.WithValidator(survey.Required))
		return strings.TrimSpace(name), err
	}
	options := make([]string, 0, len(p.Models))
	for _, m := range p.Models {
		options = append(options, m.Name)
	}
	if def == "" || !contains(options, def) {
		def = p.DefaultModel
	}
	if !contains(options, def) {
		def = options[0]
	}

	var selected string
	prompt := &survey.Select{
		Message: "Select model:",
		Options: options,
		Default: def,
	}
	err := survey.AskOne(prompt, &selected)
	return selected, err
}

// PromptForConfirmation prompts the user to confirm their selections
func PromptForConfirmation(req models.AnalysisRequest) (bool, error) {
	names := make([]string, 0, len(req.Analysts))
	for _, a := range req.Analysts {
		names = append(names, analystLabels[a])
	}
	summary := fmt.Sprintf("Ticker:   %s\nDate:     %s\nAnalysts: %s\nDepth:    %d\nModel:    %s/%s",
		req.Ticker, req.AnalysisDate, strings.Join(names, ", "), req.ResearchDepth, req.LLMProvider, req.LLMModel)
	fmt.Println(headerStyle.Render(summary))

	confirmed := true
	err := survey.AskOne(&survey.Confirm{Message: "Proceed with this analysis?", Default: true}, &confirmed)
	return confirmed, err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
