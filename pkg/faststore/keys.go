package faststore

import "fmt"

func (s *Store) lockKey(workspaceID, filePath string) string {
	return fmt.Sprintf("%s:state:locks:%s:%s", s.cfg.StreamPrefix, workspaceID, filePath)
}

func (s *Store) readersKey(workspaceID, filePath string) string {
	return s.lockKey(workspaceID, filePath) + ":readers"
}

func (s *Store) waitersKey(workspaceID, filePath string) string {
	return fmt.Sprintf("%s:state:edit_queue:%s:%s", s.cfg.StreamPrefix, workspaceID, filePath)
}

func (s *Store) agentKey(agentID string) string {
	return fmt.Sprintf("%s:state:agents:%s", s.cfg.StreamPrefix, agentID)
}

func (s *Store) workspaceKey(workspaceID string) string {
	return fmt.Sprintf("%s:state:workspace:%s", s.cfg.StreamPrefix, workspaceID)
}

func (s *Store) heartbeatKey() string {
	return fmt.Sprintf("%s:heartbeat:%s", s.cfg.StreamPrefix, s.cfg.ConsumerName)
}

func (s *Store) streamKey(name string) string {
	return fmt.Sprintf("%s:%s", s.cfg.StreamPrefix, name)
}

const readersSentinel = "readers"
