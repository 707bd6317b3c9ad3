// sim.go - Simulierte Runtime fuer Tests und den Demo-Pfad
//
// Dieses Modul enthaelt:
// - Runtime: deterministische In-Process-Runtime ohne Modell-Datei
// - Vocab: Byte-Level-Vokabular mit festen Spezial-Tokens
// - Registrierung unter dem Namen "sim"
//
// Die Runtime modelliert das Decode/Sampling-Verhalten einer echten
// Tensor-Runtime nur soweit, wie der Scheduler es beobachten kann:
// KV-Belegung pro Sequenz, Decode-Statuscodes und deterministische
// Token-Fortsetzungen aus dem Sequenz-Inhalt.
package sim

import (
	"errors"
	"fmt"

	"github.com/localllm/localllm/ml"
)

func init() {
	ml.RegisterRuntime("sim", func(modelPath string, params ml.RuntimeParams) (ml.Runtime, error) {
		return New(Config{}), nil
	})
}

// Spezial-Tokens des simulierten Vokabulars. Byte-Tokens beginnen bei
// byteBase; alles darunter ist ein Kontroll-Token.
const (
	tokenPad int32 = iota
	tokenBOS
	tokenEOS
	tokenEOT
	tokenSep
	tokenFIMPre
	tokenFIMMid
	tokenFIMSuf
	byteBase
)

// Config steuert das Verhalten einer simulierten Runtime
type Config struct {
	// NoBOS unterdrueckt das fuehrende BOS-Token beim Tokenisieren
	NoBOS bool

	// TokenizeErr laesst jede Tokenisierung mit diesem Fehler fehlschlagen
	TokenizeErr error
}

// Runtime ist eine simulierte Modell-Runtime
type Runtime struct {
	vocab *Vocab
}

// New erstellt eine simulierte Runtime
func New(cfg Config) *Runtime {
	return &Runtime{vocab: &Vocab{addBOS: !cfg.NoBOS, tokenizeErr: cfg.TokenizeErr}}
}

func (r *Runtime) Close() {}

func (r *Runtime) Vocab() ml.Vocab {
	return r.vocab
}

func (r *Runtime) NewContext(params ml.ContextParams) (ml.Context, error) {
	if params.NumCtx <= 0 {
		return nil, errors.New("sim: context length must be positive")
	}
	if params.NumSeqMax <= 0 {
		params.NumSeqMax = 2
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 512
	}

	return &Context{
		params: params,
		vocab:  r.vocab,
		mem:    newMemory(params.NumCtx),
		forced: make(map[uint64]int32),
	}, nil
}

// Vocab ist ein Byte-Level-Vokabular: Token-IDs byteBase..byteBase+255
// bilden die Bytes 0..255 ab
type Vocab struct {
	addBOS      bool
	tokenizeErr error
}

func (v *Vocab) BOS() int32    { return tokenBOS }
func (v *Vocab) EOS() int32    { return tokenEOS }
func (v *Vocab) EOT() int32    { return tokenEOT }
func (v *Vocab) NL() int32     { return byteBase + '\n' }
func (v *Vocab) PAD() int32    { return tokenPad }
func (v *Vocab) SEP() int32    { return tokenSep }
func (v *Vocab) FIMPre() int32 { return tokenFIMPre }
func (v *Vocab) FIMMid() int32 { return tokenFIMMid }
func (v *Vocab) FIMSuf() int32 { return tokenFIMSuf }

func (v *Vocab) IsEOG(token int32) bool {
	return token == tokenEOS || token == tokenEOT
}

func (v *Vocab) IsControl(token int32) bool {
	return token >= 0 && token < byteBase
}

// Piece gibt die Textdarstellung zurueck; Kontroll-Tokens rendern leer
func (v *Vocab) Piece(token int32) string {
	if token < byteBase || token >= byteBase+256 {
		return ""
	}
	return string([]byte{byte(token - byteBase)})
}

func (v *Vocab) Text(token int32) string {
	switch token {
	case tokenPad:
		return "<pad>"
	case tokenBOS:
		return "<s>"
	case tokenEOS:
		return "</s>"
	case tokenEOT:
		return "<eot>"
	case tokenSep:
		return "<sep>"
	}
	return v.Piece(token)
}

func (v *Vocab) Score(token int32) float32 { return 0 }

func (v *Vocab) AddBOS() bool { return v.addBOS }
func (v *Vocab) AddEOS() bool { return false }

func (v *Vocab) NumVocab() int { return int(byteBase) + 256 }

func (v *Vocab) Tokenize(text string, addSpecial bool, parseSpecial bool) ([]int32, error) {
	if v.tokenizeErr != nil {
		return nil, fmt.Errorf("tokenization failed: %w", v.tokenizeErr)
	}

	tokens := make([]int32, 0, len(text)+1)
	if addSpecial && v.addBOS {
		tokens = append(tokens, tokenBOS)
	}
	for i := 0; i < len(text); i++ {
		tokens = append(tokens, byteBase+int32(text[i]))
	}

	return tokens, nil
}

func (v *Vocab) Detokenize(tokens []int32) string {
	var out []byte
	for _, t := range tokens {
		out = append(out, []byte(v.Piece(t))...)
	}
	return string(out)
}
