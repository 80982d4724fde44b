package core

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"omnichain-deploy/display"

	"github.com/ethereum/go-ethereum/common"
)

var ErrVerifyRejected = errors.New("verification rejected")

type VerifyRequest struct {
	Address         common.Address
	Artifact        *Artifact
	ConstructorArgs []byte
}

type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) error
}

// EtherscanVerifier 提交 standard-json-input 到 etherscan 兼容的浏览器
type EtherscanVerifier struct {
	api        string
	apiKey     string
	chainId    int64
	httpClient *http.Client
}

func NewEtherscanVerifier(api, apiKey string, chainId int64) *EtherscanVerifier {
	return &EtherscanVerifier{
		api:        api,
		apiKey:     apiKey,
		chainId:    chainId,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type etherscanResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

func (v *EtherscanVerifier) Verify(ctx context.Context, req VerifyRequest) error {
	info, err := req.Artifact.LoadBuildInfo()
	if err != nil {
		return err
	}
	if req.Artifact.SourceName == "" {
		return fmt.Errorf("verify %s: unknown source name", req.Artifact.ContractName)
	}
	compiler := info.SolcLongVersion
	if !strings.HasPrefix(compiler, "v") {
		compiler = "v" + compiler
	}

	form := url.Values{}
	form.Set("apikey", v.apiKey)
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")
	form.Set("contractaddress", req.Address.Hex())
	form.Set("sourceCode", string(info.Input))
	form.Set("codeformat", "solidity-standard-json-input")
	form.Set("contractname", req.Artifact.SourceName+":"+req.Artifact.ContractName)
	form.Set("compilerversion", compiler)
	form.Set("constructorArguements", hex.EncodeToString(req.ConstructorArgs))

	endpoint := v.api
	if v.chainId > 0 {
		endpoint = withQuery(endpoint, "chainid", strconv.FormatInt(v.chainId, 10))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("verify %s: %w", req.Artifact.ContractName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verify %s: explorer returned %s", req.Artifact.ContractName, resp.Status)
	}
	var res etherscanResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("verify %s: decode response: %w", req.Artifact.ContractName, err)
	}
	if res.Status != "1" {
		return fmt.Errorf("%w: %s: %s %s", ErrVerifyRejected, req.Artifact.ContractName, res.Message, res.Result)
	}
	display.PrintfWithTime("verification of %s submitted, guid %s\n", req.Artifact.ContractName, res.Result)
	return nil
}

func withQuery(rawUrl, key, value string) string {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return rawUrl
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
