// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by every stage of a turn.
//
// A turn flows through these types in order: a ModelDescriptor is resolved from
// configuration, an InvocationSpec is built from it plus the prompt and context,
// the backend streams increments, and a StreamOutcome records the result.
//
// # Key Types
//
//   - ModelDescriptor: Identity, parameters and credential reference of one enabled model
//   - InvocationSpec: Everything a backend needs for one model in one turn
//   - Message: Single log entry with role, content, and pending flag
//   - StreamOutcome: Terminal result of one model's stream
//   - Passage: One retrieved document chunk used as augmentation context
//
// # Usage
//
//	desc := model.ModelDescriptor{ProviderID: "openai", ModelID: "gpt-4o"}
//	spec := model.InvocationSpec{Descriptor: desc, Prompt: "ping"}
//	fmt.Println(spec.Descriptor.Key()) // openai/gpt-4o
package model
