package interpreter

import (
	"encoding/json"
	"fmt"
	"strings"

	"gastos/internal/core"
)

// Inference is the raw answer of a language capability, before validation.
type Inference struct {
	Description string          `json:"descricao"`
	Amount      json.RawMessage `json:"valor"` // number or string
	Category    string          `json:"categoria"`
	Date        string          `json:"data"`
	Confidence  *float64        `json:"confianca"`
}

const systemPrompt = "Você é um assistente especializado em interpretar mensagens sobre gastos pessoais em português brasileiro. Sempre retorne JSON válido."

func buildPrompt(text string, ref core.Date) string {
	var sb strings.Builder
	cats := make([]string, 0, len(core.Categories()))
	for _, c := range core.Categories() {
		cats = append(cats, c.String())
	}
	yesterday := ref.AddDays(-1)

	sb.WriteString("Interprete esta mensagem sobre gasto pessoal ou investimento em português brasileiro:\n")
	fmt.Fprintf(&sb, "%q\n\n", text)
	sb.WriteString("Extraia as informações e retorne APENAS um JSON válido com os campos:\n")
	sb.WriteString(`- "descricao": nome do estabelecimento, item comprado ou investimento (string)` + "\n")
	sb.WriteString(`- "valor": valor numérico positivo em reais (ex: 15.50)` + "\n")
	fmt.Fprintf(&sb, "- \"categoria\": uma das opções exatas: %s\n", strings.Join(cats, ", "))
	fmt.Fprintf(&sb, "- \"data\": formato YYYY-MM-DD (se não especificada, use %s)\n", ref)
	sb.WriteString(`- "confianca": número de 0.0 a 1.0 indicando a certeza da interpretação` + "\n\n")
	fmt.Fprintf(&sb, "Se a mensagem fala em guardar, investir, poupança, caixinha, aplicação ou reserva, use a categoria %q.\n", core.CategoryFinance)
	sb.WriteString("Se apenas o mês for informado, use o primeiro dia desse mês. Nunca retorne datas posteriores a ")
	sb.WriteString(ref.String())
	sb.WriteString(".\n\nExemplos:\n")
	fmt.Fprintf(&sb, "Input: \"gastei 20 reais na padaria\"\nOutput: {\"descricao\": \"Padaria\", \"valor\": 20.00, \"categoria\": %q, \"data\": %q, \"confianca\": 0.9}\n",
		core.CategoryFood, ref)
	fmt.Fprintf(&sb, "Input: \"uber para o trabalho 15 reais ontem\"\nOutput: {\"descricao\": \"Uber trabalho\", \"valor\": 15.00, \"categoria\": %q, \"data\": %q, \"confianca\": 0.8}\n",
		core.CategoryTransport, yesterday)
	fmt.Fprintf(&sb, "Input: \"guardei 300 reais na conta\"\nOutput: {\"descricao\": \"Poupança conta\", \"valor\": 300.00, \"categoria\": %q, \"data\": %q, \"confianca\": 0.9}\n\n",
		core.CategoryFinance, ref)
	sb.WriteString("Retorne APENAS o JSON, sem texto adicional.")
	return sb.String()
}

// cleanModelJSON strips markdown fences some models wrap JSON in.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	s = strings.TrimSpace(s)
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i > 0 && j > i {
		s = s[i : j+1]
	}
	return s
}

// parseInference decodes a model answer. Malformed answers are
// InvalidResponse failures.
func parseInference(raw string) (Inference, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return Inference{}, core.NewInterpretationError(core.InvalidResponse, fmt.Errorf("empty model response"))
	}
	var inf Inference
	if err := json.Unmarshal([]byte(clean), &inf); err != nil {
		return Inference{}, core.NewInterpretationError(core.InvalidResponse, fmt.Errorf("parse json: %w (response: %s)", err, clean))
	}
	return inf, nil
}

// AmountText returns the amount as written by the model, unquoted.
func (inf Inference) AmountText() string {
	return strings.Trim(strings.TrimSpace(string(inf.Amount)), `"`)
}
