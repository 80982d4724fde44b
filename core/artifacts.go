package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrNoBuildInfo      = errors.New("no build info")
)

// Artifact 编译产物，兼容 hardhat 与 foundry 的输出格式
type Artifact struct {
	ContractName string
	SourceName   string
	Abi          abi.ABI
	Bytecode     []byte
	BuildInfo    string // build-info 文件路径，合约验证时使用
}

// BuildInfo hardhat build-info 里验证需要的部分
type BuildInfo struct {
	SolcLongVersion string          `json:"solcLongVersion"`
	Input           json.RawMessage `json:"input"`
}

type rawArtifact struct {
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	Abi          json.RawMessage `json:"abi"`
	Bytecode     bytecodeField   `json:"bytecode"`
	Metadata     json.RawMessage `json:"metadata"`
	BuildInfo    string          `json:"buildInfo"`
}

// bytecodeField hardhat 是字符串，foundry 是 {"object": "0x..."}
type bytecodeField []byte

func (b *bytecodeField) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		s = obj.Object
	} else if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" || s == "0x" {
		*b = nil
		return nil
	}
	if strings.Contains(s, "__") {
		return errors.New("bytecode has unlinked libraries")
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	decoded, err := hexutil.Decode(s)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

type foundryMetadata struct {
	Settings struct {
		CompilationTarget map[string]string `json:"compilationTarget"`
	} `json:"settings"`
}

type ArtifactStore struct {
	Dir string
}

func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{Dir: dir}
}

// Load 依次查找 <dir>/<Name>.json、<dir>/<Name>.sol/<Name>.json 以及 hardhat 的 contracts 子目录
func (s *ArtifactStore) Load(name string) (*Artifact, error) {
	path, err := s.find(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	contractAbi, err := abi.JSON(bytes.NewReader(raw.Abi))
	if err != nil {
		return nil, fmt.Errorf("parse artifact %s abi: %w", path, err)
	}
	if len(raw.Bytecode) == 0 {
		return nil, fmt.Errorf("artifact %s has no bytecode (abstract contract or interface?)", path)
	}

	artifact := &Artifact{
		ContractName: raw.ContractName,
		SourceName:   raw.SourceName,
		Abi:          contractAbi,
		Bytecode:     raw.Bytecode,
	}
	if artifact.ContractName == "" {
		artifact.ContractName = name
	}
	if artifact.SourceName == "" && len(raw.Metadata) > 0 {
		artifact.SourceName = sourceFromMetadata(raw.Metadata, artifact.ContractName)
	}
	artifact.BuildInfo = s.buildInfoPath(path, raw.BuildInfo)
	return artifact, nil
}

func (s *ArtifactStore) find(name string) (string, error) {
	candidates := []string{
		filepath.Join(s.Dir, name+".json"),
		filepath.Join(s.Dir, name+".sol", name+".json"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	// hardhat: artifacts/contracts/<dir>/<Name>.sol/<Name>.json
	var found string
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name+".json" && filepath.Base(filepath.Dir(path)) == name+".sol" {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("search artifact %s: %w", name, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrArtifactNotFound, name, s.Dir)
	}
	return found, nil
}

// buildInfoPath 优先 artifact 里的 buildInfo 字段，其次 hardhat 的 <Name>.dbg.json
func (s *ArtifactStore) buildInfoPath(artifactPath, explicit string) string {
	dir := filepath.Dir(artifactPath)
	if explicit != "" {
		if filepath.IsAbs(explicit) {
			return explicit
		}
		return filepath.Join(dir, explicit)
	}
	dbgPath := strings.TrimSuffix(artifactPath, ".json") + ".dbg.json"
	data, err := os.ReadFile(dbgPath)
	if err != nil {
		return ""
	}
	var dbg struct {
		BuildInfo string `json:"buildInfo"`
	}
	if err := json.Unmarshal(data, &dbg); err != nil || dbg.BuildInfo == "" {
		return ""
	}
	return filepath.Join(dir, dbg.BuildInfo)
}

func sourceFromMetadata(metadata json.RawMessage, contractName string) string {
	var meta foundryMetadata
	if err := json.Unmarshal(metadata, &meta); err != nil {
		// solc 输出的 metadata 可能是字符串形式
		var s string
		if err := json.Unmarshal(metadata, &s); err != nil || json.Unmarshal([]byte(s), &meta) != nil {
			return ""
		}
	}
	for source, name := range meta.Settings.CompilationTarget {
		if name == contractName {
			return source
		}
	}
	return ""
}

// ConstructorArgs 按 abi 编码构造参数
func (a *Artifact) ConstructorArgs(args ...interface{}) ([]byte, error) {
	if len(a.Abi.Constructor.Inputs) == 0 && len(args) == 0 {
		return nil, nil
	}
	packed, err := a.Abi.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s constructor: %w", a.ContractName, err)
	}
	return packed, nil
}

func (a *Artifact) LoadBuildInfo() (*BuildInfo, error) {
	if a.BuildInfo == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoBuildInfo, a.ContractName)
	}
	data, err := os.ReadFile(a.BuildInfo)
	if err != nil {
		return nil, fmt.Errorf("read build info: %w", err)
	}
	var info BuildInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse build info %s: %w", a.BuildInfo, err)
	}
	if info.SolcLongVersion == "" || len(info.Input) == 0 {
		return nil, fmt.Errorf("%w: %s is incomplete", ErrNoBuildInfo, a.BuildInfo)
	}
	return &info, nil
}
