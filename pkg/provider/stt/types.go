package stt

import "github.com/nilstrand/voicegate/pkg/types"

// Transcript, WordDetail, and KeywordBoost are aliases of the shared types in
// pkg/types, so every stt provider and consumer can refer to them without an
// extra import while [SessionHandle] and [StreamConfig] stay expressed
// directly in terms of pkg/types for the rest of the module to share.
type Transcript = types.Transcript

type WordDetail = types.WordDetail

type KeywordBoost = types.KeywordBoost
