package tun

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"howett.net/plist"

	"secureproxy/backend/domain"
	"secureproxy/backend/persist"
	"secureproxy/backend/service/shared"
)

// DescriptorStore 以 plist 保存虚拟网卡描述：<dir>/<id>.plist
type DescriptorStore struct {
	dir string
}

func NewDescriptorStore(dir string) *DescriptorStore {
	return &DescriptorStore{dir: dir}
}

func (s *DescriptorStore) path(id string) (string, error) {
	return shared.SafeJoin(s.dir, id+".plist")
}

// Load 读取描述；不存在时返回 domain.ErrDescriptorNotFound
func (s *DescriptorStore) Load(id string) (domain.VirtualInterfaceConfig, error) {
	path, err := s.path(id)
	if err != nil {
		return domain.VirtualInterfaceConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.VirtualInterfaceConfig{}, domain.ErrDescriptorNotFound
		}
		return domain.VirtualInterfaceConfig{}, err
	}
	var d domain.VirtualInterfaceConfig
	if _, err := plist.Unmarshal(data, &d); err != nil {
		return domain.VirtualInterfaceConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if d.ProviderIdentifier == "" {
		d.ProviderIdentifier = id
	}
	return d, nil
}

// Save 原子写入描述
func (s *DescriptorStore) Save(d domain.VirtualInterfaceConfig) error {
	path, err := s.path(d.ProviderIdentifier)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := plist.NewEncoderForFormat(&buf, plist.XMLFormat)
	enc.Indent("\t")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	return persist.AtomicWrite(path, buf.Bytes(), 0o644)
}
