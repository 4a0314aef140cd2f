package aptos

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	TransferCoinsFunction    = "0x1::aptos_account::transfer_coins"
	CoinTransferFunction     = "0x1::coin::transfer"
	TransferFungibleFunction = "0x1::primary_fungible_store::transfer"
	fungibleMetadataType     = "0x1::fungible_asset::Metadata"
)

// Only framework entry functions move funds with the argument layout we
// decode. Any other module could take the same arguments and do nothing.
var transferFunctions = map[TransferKind][]string{
	FungibleAsset: {TransferFungibleFunction},
	Coin:          {TransferCoinsFunction, CoinTransferFunction},
}

// Payload is an entry function payload as the REST API renders it.
type Payload struct {
	Type          string            `json:"type"`
	Function      string            `json:"function"`
	TypeArguments []string          `json:"type_arguments"`
	Arguments     []json.RawMessage `json:"arguments"`
}

type TransferKind int

const (
	// FungibleAsset transfers carry [asset, receiver, amount].
	FungibleAsset TransferKind = iota + 1
	// Coin transfers carry [receiver, amount] with the coin type as the type argument.
	Coin
)

func (k TransferKind) String() string {
	switch k {
	case FungibleAsset:
		return "fungible_asset"
	case Coin:
		return "coin"
	}
	return "unknown"
}

// Transfer is the decoded (receiver, amount, asset) of either payload shape.
type Transfer struct {
	Kind     TransferKind
	Receiver string
	Amount   string
	Asset    string
}

// DecodeTransfer identifies the payload shape by its arguments, checks the
// entry function is a known transfer of that shape, and decodes it.
func DecodeTransfer(p Payload) (Transfer, error) {
	var kind TransferKind
	switch {
	case len(p.Arguments) == 3:
		kind = FungibleAsset
	case len(p.Arguments) == 2 && len(p.TypeArguments) == 1:
		kind = Coin
	default:
		return Transfer{}, fmt.Errorf("unsupported payload: %d arguments, %d type arguments",
			len(p.Arguments), len(p.TypeArguments))
	}
	if !knownFunction(kind, p.Function) {
		return Transfer{}, fmt.Errorf("unsupported function %q for %s transfer", p.Function, kind)
	}

	if kind == FungibleAsset {
		asset, err := objectAddress(p.Arguments[0])
		if err != nil {
			return Transfer{}, fmt.Errorf("asset argument: %w", err)
		}
		return decodeTail(kind, asset, p.Arguments[1], p.Arguments[2])
	}
	return decodeTail(kind, p.TypeArguments[0], p.Arguments[0], p.Arguments[1])
}

func knownFunction(kind TransferKind, function string) bool {
	for _, f := range transferFunctions[kind] {
		if SameAddress(function, f) {
			return true
		}
	}
	return false
}

func decodeTail(kind TransferKind, asset string, receiverArg, amountArg json.RawMessage) (Transfer, error) {
	var receiver string
	if err := json.Unmarshal(receiverArg, &receiver); err != nil {
		return Transfer{}, fmt.Errorf("receiver argument: %w", err)
	}
	amount, err := integerArg(amountArg)
	if err != nil {
		return Transfer{}, fmt.Errorf("amount argument: %w", err)
	}
	return Transfer{Kind: kind, Receiver: receiver, Amount: amount, Asset: asset}, nil
}

// objectAddress accepts "0x.." or an Object<T> rendered as {"inner":"0x.."}.
func objectAddress(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Inner string `json:"inner"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Inner == "" {
		return "", fmt.Errorf("not an address: %s", raw)
	}
	return obj.Inner, nil
}

// integerArg reads a u64 that the API renders as a string, or a bare number.
func integerArg(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		s = n.String()
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return "", fmt.Errorf("not an unsigned integer: %q", s)
	}
	return s, nil
}

// TransferPayload builds the entry function a client signs to pay amountRaw
// of asset to receiver. Coin types contain "::"; anything else is a
// fungible-asset metadata address.
func TransferPayload(asset, receiver, amountRaw string) Payload {
	if strings.Contains(asset, "::") {
		return Payload{
			Type:          "entry_function_payload",
			Function:      TransferCoinsFunction,
			TypeArguments: []string{asset},
			Arguments:     []json.RawMessage{quote(receiver), quote(amountRaw)},
		}
	}
	return Payload{
		Type:          "entry_function_payload",
		Function:      TransferFungibleFunction,
		TypeArguments: []string{fungibleMetadataType},
		Arguments:     []json.RawMessage{quote(asset), quote(receiver), quote(amountRaw)},
	}
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
