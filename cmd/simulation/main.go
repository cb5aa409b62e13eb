package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"ai-context-pipeline/internal/dto"
	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/internal/repository/memory"
	"ai-context-pipeline/internal/repository/unitofwork"
	"ai-context-pipeline/pkg/database"
	"ai-context-pipeline/pkg/llm"
	"ai-context-pipeline/pkg/rag/citation"
	"ai-context-pipeline/pkg/rag/confidence"
	"ai-context-pipeline/pkg/rag/coreference"
	"ai-context-pipeline/pkg/rag/ctxmgr"
	"ai-context-pipeline/pkg/rag/domain"
	"ai-context-pipeline/pkg/rag/output"
	"ai-context-pipeline/pkg/rag/quality"
	"ai-context-pipeline/pkg/rag/session"
	"ai-context-pipeline/pkg/rag/state"

	"github.com/fatih/color"
)

const (
	conversationID = "sim-conversation"
	userID         = "sim-user"
	workspaceID    = "sim-workspace"
)

// turn is one scripted exchange. The answer and its score stand in for the
// retrieval and generation steps, which live outside this pipeline.
type turn struct {
	query    string
	answer   string
	score    float64
	intent   state.Intent
	topic    string
	entities []state.EntityMention
}

var script = []turn{
	{
		query:    "Hi there",
		answer:   "Hello! Ask me anything about the platform docs.",
		score:    0.9,
		intent:   state.IntentChitchat,
		topic:    "",
		entities: nil,
	},
	{
		query:    "What is Redis used for in our stack?",
		answer:   "Redis backs the session cache and the preference store [1]. It also holds task progress [2].",
		score:    0.82,
		intent:   state.IntentFactual,
		topic:    "caching",
		entities: []state.EntityMention{{Name: "Redis", Type: "technology"}},
	},
	{
		query:    "How does it expire keys?",
		answer:   "Task progress keys carry a 24 hour TTL that is refreshed on every update [2]. See also [7].",
		score:    0.55,
		intent:   state.IntentExplanation,
		topic:    "caching",
		entities: []state.EntityMention{{Name: "TTL", Type: "concept"}},
	},
	{
		query:    "Compare it with NATS",
		answer:   "Not sure.",
		score:    0.2,
		intent:   state.IntentComparison,
		topic:    "messaging",
		entities: []state.EntityMention{{Name: "NATS", Type: "technology"}},
	},
}

var sources = []citation.Source{
	{ID: "doc-redis", Title: "Redis usage"},
	{ID: "doc-ttl", Title: "Key expiry"},
}

func main() {
	ctx := context.Background()
	color.Cyan("=== Context Pipeline Simulation ===")

	db, err := database.NewInMemoryDB("simulation")
	if err != nil {
		color.Red("Failed to open in-memory database: %v", err)
		os.Exit(1)
	}

	log := logger.NewNopLogger()
	repoFactory := unitofwork.NewRepositoryFactory(db)
	sessions := session.NewManager(repoFactory, memory.NewSessionCache(), log)
	domainService := domain.NewService(repoFactory, log)
	manager := ctxmgr.NewManager(ctxmgr.Dependencies{
		Coreference: coreference.NewResolver(nil, log),
		Sessions:    sessions,
		Domain:      domainService,
	}, ctxmgr.Options{Degrade: true}, log)

	pipeline := quality.NewPipeline(
		citation.NewValidator(log),
		output.NewValidator(log),
		confidence.NewHandler(confidence.DefaultThresholds(), log),
		quality.DefaultOptions(),
		log,
	)

	color.Yellow("\n[INIT] Initialize conversation")
	initialized, err := manager.InitializeConversation(ctx, dto.InitializeRequest{
		ConversationId: conversationID,
		UserId:         userID,
		WorkspaceId:    workspaceID,
		WorkspaceName:  "Platform docs",
		SeedTopics:     []string{"caching", "messaging"},
		Keywords:       []string{"redis", "nats", "ttl", "jetstream"},
	})
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	color.Green("Concepts built: %d", initialized.ConceptsBuilt)

	color.Yellow("\n[SOURCES] Retrieved documents offered to the model")
	fmt.Print(citation.FormatSourceList(sources))

	var history []llm.Message
	for i, t := range script {
		color.Yellow("\n[TURN %d] USER: %s", i+1, t.query)

		built, err := manager.BuildContext(ctx, dto.BuildContextRequest{
			Query:          t.query,
			ConversationId: conversationID,
			UserId:         userID,
			WorkspaceId:    workspaceID,
			Messages:       history,
		})
		if err != nil {
			color.Red("BuildContext failed: %v", err)
			continue
		}
		fmt.Printf("resolved: %q (confidence %.2f)\n", built.ResolvedQuery, built.CoreferenceConfidence)
		fmt.Printf("phase: %s, in scope: %v\n", built.Session.Phase, built.Scope.InScope)

		final := pipeline.Finalize(t.answer, sources, t.score)
		if final.ConfidenceBlocked {
			color.Red("ASSISTANT (blocked): %s", final.Answer.Answer)
		} else {
			color.Green("ASSISTANT: %s", final.Answer.Answer)
		}
		prettyPrint(map[string]interface{}{
			"level":     final.ConfidenceLevel,
			"citations": final.Citations.ValidCitations,
			"orphans":   final.Citations.InvalidCitations,
			"retry":     final.ShouldRetry,
		})

		if err := manager.UpdateAfterInteraction(ctx, dto.InteractionUpdate{
			ConversationId:    conversationID,
			UserId:            userID,
			WorkspaceId:       workspaceID,
			UserQuery:         t.query,
			AssistantResponse: final.Answer.Answer,
			Intent:            t.intent,
			Entities:          t.entities,
			Topic:             t.topic,
		}); err != nil {
			color.Red("UpdateAfterInteraction failed: %v", err)
		}

		history = append(history,
			llm.Message{Role: "user", Content: t.query},
			llm.Message{Role: "assistant", Content: final.Answer.Answer},
		)
	}

	color.Yellow("\n[END] Final session state")
	summary, err := sessions.GetSessionContext(ctx, conversationID)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	prettyPrint(summary)

	if err := sessions.EndSession(ctx, conversationID); err != nil {
		color.Red("EndSession failed: %v", err)
		os.Exit(1)
	}
	color.Cyan("\nSimulation complete")
}

func prettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(b))
}
