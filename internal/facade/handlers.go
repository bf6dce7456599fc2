package facade

import (
	"time"

	"github.com/foundrylabs/memento/internal/aggregator"
	"github.com/foundrylabs/memento/internal/codec"
	"github.com/foundrylabs/memento/internal/memerr"
	"github.com/foundrylabs/memento/internal/search"
	"github.com/foundrylabs/memento/internal/store"
)

const (
	maxObservationsPerEntity = 500
	maxEntitiesPerCall       = 1000
)

func (f *Facade) registerHandlers() {
	f.handlers["create_entities"] = handleCreateEntities
	f.requiredArgs["create_entities"] = []requiredArg{{"entities", "array"}}

	f.handlers["create_relations"] = handleCreateRelations
	f.requiredArgs["create_relations"] = []requiredArg{{"relations", "array"}}

	f.handlers["add_observations"] = handleAddObservations
	f.requiredArgs["add_observations"] = []requiredArg{{"observations", "array"}}

	f.handlers["delete_entities"] = handleDeleteEntities
	f.requiredArgs["delete_entities"] = []requiredArg{{"names", "array"}, {"confirm", "bool"}}

	f.handlers["delete_relations"] = handleDeleteRelations
	f.requiredArgs["delete_relations"] = []requiredArg{{"relations", "array"}, {"confirm", "bool"}}

	f.handlers["delete_observations"] = handleDeleteObservations
	f.requiredArgs["delete_observations"] = []requiredArg{{"deletions", "array"}, {"confirm", "bool"}}

	f.handlers["get_entity"] = handleGetEntity
	f.requiredArgs["get_entity"] = []requiredArg{{"name", "string"}}

	f.handlers["read_graph"] = handleReadGraph

	f.handlers["search_nodes"] = handleSearchNodes
	f.requiredArgs["search_nodes"] = []requiredArg{{"query", "string"}}

	f.handlers["analyze_intent"] = handleAnalyzeIntent
	f.requiredArgs["analyze_intent"] = []requiredArg{{"query", "string"}}

	f.handlers["create_context"] = handleCreateContext
	f.requiredArgs["create_context"] = []requiredArg{{"name", "string"}}

	f.handlers["delete_context"] = handleDeleteContext
	f.requiredArgs["delete_context"] = []requiredArg{{"name", "string"}}

	f.handlers["set_context"] = handleSetContext
	f.requiredArgs["set_context"] = []requiredArg{{"name", "string"}}

	f.handlers["get_current_context"] = handleGetCurrentContext
	f.handlers["list_contexts"] = handleListContexts

	f.handlers["export_memory"] = handleExportMemory
	f.handlers["import_memory"] = handleImportMemory
	f.requiredArgs["import_memory"] = []requiredArg{{"data", "string"}}

	f.handlers["rollback_transaction"] = handleRollbackTransaction
	f.requiredArgs["rollback_transaction"] = []requiredArg{{"transaction_id", "string"}, {"confirm", "bool"}}
}

func textContent(s string) []ContentBlock {
	return []ContentBlock{{Type: "text", Text: s}}
}

// --- entity/relation/observation writes ---

func decodeEntity(m map[string]any) (store.Entity, error) {
	name, _ := m["name"].(string)
	entityType, _ := m["entity_type"].(string)
	if name == "" || entityType == "" {
		return store.Entity{}, memerr.InvalidInput("entity requires name and entity_type")
	}
	rawObs, _ := m["observations"].([]any)
	if len(rawObs) > maxObservationsPerEntity {
		return store.Entity{}, memerr.InvalidInput("entity %q exceeds %d observations", name, maxObservationsPerEntity)
	}
	obs, err := decodeObservations(rawObs)
	if err != nil {
		return store.Entity{}, err
	}
	return store.Entity{Name: name, EntityType: entityType, Observations: obs}, nil
}

func decodeObservations(raw []any) ([]store.Observation, error) {
	out := make([]store.Observation, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, memerr.InvalidInput("observation must be an object with a type field")
		}
		kind, _ := m["type"].(string)
		o := store.Observation{Type: store.ObservationKind(kind)}
		o.Text, _ = m["text"].(string)
		o.DataB64, _ = m["data_b64"].(string)
		o.MimeType, _ = m["mime_type"].(string)
		o.URI, _ = m["uri"].(string)
		o.Title, _ = m["title"].(string)
		o.Description, _ = m["description"].(string)
		if err := o.Validate(); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func decodeRelation(m map[string]any) (store.Relation, error) {
	from, _ := m["from"].(string)
	to, _ := m["to"].(string)
	relType, _ := m["relation_type"].(string)
	if from == "" || to == "" || relType == "" {
		return store.Relation{}, memerr.InvalidInput("relation requires from, to, and relation_type")
	}
	r := store.Relation{From: from, To: to, RelationType: relType}
	if strength, ok := m["strength"].(float64); ok {
		r.Strength = &strength
	}
	return r, nil
}

func handleCreateEntities(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	rawEntities, _ := args["entities"].([]any)
	if len(rawEntities) == 0 || len(rawEntities) > maxEntitiesPerCall {
		return Response{}, memerr.InvalidInput("entities must contain between 1 and %d items", maxEntitiesPerCall)
	}
	entities := make([]store.Entity, 0, len(rawEntities))
	for _, raw := range rawEntities {
		m, ok := raw.(map[string]any)
		if !ok {
			return Response{}, memerr.InvalidInput("each entity must be an object")
		}
		e, err := decodeEntity(m)
		if err != nil {
			return Response{}, err
		}
		entities = append(entities, e)
	}

	result, err := f.submitWrite(ctx, "create_entities", aggregator.Intent{Kind: aggregator.IntentCreateEntities, Entities: entities})
	if err != nil {
		return Response{}, err
	}
	search.InvalidateOnWrite(ctx)

	created := 0
	for _, r := range result.EntityResults {
		if r.Created {
			created++
		}
	}
	return Response{
		StructuredContent: map[string]any{"results": result.EntityResults, "created": created, "total": len(result.EntityResults)},
		Content:           textContent("created entities"),
	}, nil
}

func handleCreateRelations(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	rawRelations, _ := args["relations"].([]any)
	if len(rawRelations) == 0 {
		return Response{}, memerr.InvalidInput("relations must contain at least 1 item")
	}
	relations := make([]store.Relation, 0, len(rawRelations))
	for _, raw := range rawRelations {
		m, ok := raw.(map[string]any)
		if !ok {
			return Response{}, memerr.InvalidInput("each relation must be an object")
		}
		r, err := decodeRelation(m)
		if err != nil {
			return Response{}, err
		}
		relations = append(relations, r)
	}

	result, err := f.submitWrite(ctx, "create_relations", aggregator.Intent{Kind: aggregator.IntentCreateRelations, Relations: relations})
	if err != nil {
		return Response{}, err
	}
	search.InvalidateOnWrite(ctx)

	return Response{
		StructuredContent: map[string]any{"results": result.RelationResults},
		Content:           textContent("created relations"),
	}, nil
}

func handleAddObservations(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	rawAdds, _ := args["observations"].([]any)
	if len(rawAdds) == 0 {
		return Response{}, memerr.InvalidInput("observations must contain at least 1 item")
	}
	adds := make([]store.ObservationAdd, 0, len(rawAdds))
	for _, raw := range rawAdds {
		m, ok := raw.(map[string]any)
		if !ok {
			return Response{}, memerr.InvalidInput("each observation entry must be an object")
		}
		name, _ := m["name"].(string)
		if name == "" {
			return Response{}, memerr.InvalidInput("observation entry requires name")
		}
		rawObs, _ := m["observations"].([]any)
		obs, err := decodeObservations(rawObs)
		if err != nil {
			return Response{}, err
		}
		adds = append(adds, store.ObservationAdd{Name: name, Observations: obs})
	}

	result, err := f.submitWrite(ctx, "add_observations", aggregator.Intent{Kind: aggregator.IntentAddObservations, ObservationAdds: adds})
	if err != nil {
		return Response{}, err
	}
	search.InvalidateOnWrite(ctx)

	return Response{
		StructuredContent: map[string]any{"entities": result.ObservationEntities},
		Content:           textContent("added observations"),
	}, nil
}

func handleDeleteEntities(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	rawNames, _ := args["names"].([]any)
	names := make([]string, 0, len(rawNames))
	for _, n := range rawNames {
		s, ok := n.(string)
		if !ok || s == "" {
			return Response{}, memerr.InvalidInput("names must be an array of non-empty strings")
		}
		names = append(names, s)
	}

	result, err := f.submitWrite(ctx, "delete_entities", aggregator.Intent{Kind: aggregator.IntentDeleteEntities, DeleteNames: names})
	if err != nil {
		return Response{}, err
	}
	search.InvalidateOnWrite(ctx)

	return Response{
		StructuredContent: map[string]any{"deleted": names},
		Content:           textContent("deleted entities"),
	}, nil
}

func handleDeleteRelations(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	rawRelations, _ := args["relations"].([]any)
	relations := make([]store.Relation, 0, len(rawRelations))
	for _, raw := range rawRelations {
		m, ok := raw.(map[string]any)
		if !ok {
			return Response{}, memerr.InvalidInput("each relation must be an object")
		}
		r, err := decodeRelation(m)
		if err != nil {
			return Response{}, err
		}
		relations = append(relations, r)
	}

	if err := ctx.Store.DeleteRelations(relations); err != nil {
		return Response{}, err
	}
	search.InvalidateOnWrite(ctx)

	return Response{
		StructuredContent: map[string]any{"deleted_count": len(relations)},
		Content:           textContent("deleted relations"),
	}, nil
}

func handleDeleteObservations(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	rawDeletions, _ := args["deletions"].([]any)
	deletions := make([]store.ObservationDeletion, 0, len(rawDeletions))
	for _, raw := range rawDeletions {
		m, ok := raw.(map[string]any)
		if !ok {
			return Response{}, memerr.InvalidInput("each deletion must be an object")
		}
		name, _ := m["name"].(string)
		obsMap, _ := m["observation"].(map[string]any)
		if name == "" || obsMap == nil {
			return Response{}, memerr.InvalidInput("deletion requires name and observation")
		}
		obsList, err := decodeObservations([]any{obsMap})
		if err != nil {
			return Response{}, err
		}
		deletions = append(deletions, store.ObservationDeletion{Name: name, Observation: obsList[0]})
	}

	if err := ctx.Store.DeleteObservations(deletions); err != nil {
		return Response{}, err
	}
	search.InvalidateOnWrite(ctx)

	return Response{
		StructuredContent: map[string]any{"deleted_count": len(deletions)},
		Content:           textContent("deleted observations"),
	}, nil
}

// --- reads ---

func handleGetEntity(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	name := stringArg(args, "name")
	entity, err := ctx.Store.GetEntity(name)
	if err != nil {
		return Response{}, err
	}
	return Response{
		StructuredContent: map[string]any{"entity": entity},
		Content:           textContent(entity.Name),
	}, nil
}

func handleReadGraph(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	limit := intArg(args, "limit", 0)
	offset := intArg(args, "offset", 0)
	entities, relations, err := ctx.Store.ReadGraph(limit, offset)
	if err != nil {
		return Response{}, err
	}
	return Response{
		StructuredContent: map[string]any{"entities": entities, "relations": relations},
		Content:           textContent("graph read"),
	}, nil
}

// --- search ---

func handleSearchNodes(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	query := stringArg(args, "query")

	params := search.Params{
		ContentTypeFilter:  stringArg(args, "content_type_filter"),
		CurrentEntityName:  stringArg(args, "current_entity_name"),
		UserContext:        search.UserContext(stringArg(args, "user_context")),
		ConversationText:   stringArg(args, "conversation_text"),
		Intent:             search.Intent(stringArg(args, "intent")),
		Preset:             ctx.Preset,
		Now:                time.Now(),
	}
	if rawTerms, ok := args["recent_search_terms"].([]any); ok {
		for _, t := range rawTerms {
			if s, ok := t.(string); ok {
				params.RecentSearchTerms = append(params.RecentSearchTerms, s)
			}
		}
	}

	result, err := search.Run(ctx, query, params)
	if err != nil {
		return Response{}, err
	}

	return Response{
		StructuredContent: map[string]any{
			"hits":        result.Hits,
			"highlights":  result.Highlights,
			"from_cache":  result.FromCache,
		},
		Content: textContent("search complete"),
	}, nil
}

func handleAnalyzeIntent(f *Facade, args map[string]any) (Response, error) {
	query := stringArg(args, "query")
	var currentEntities []string
	if raw, ok := args["current_entities"].([]any); ok {
		for _, e := range raw {
			if s, ok := e.(string); ok {
				currentEntities = append(currentEntities, s)
			}
		}
	}
	analysis := search.AnalyzeIntent(query, currentEntities)
	return Response{
		StructuredContent: map[string]any{
			"intent":         analysis.Intent,
			"confidence":     analysis.Confidence,
			"complexity":     analysis.Complexity,
			"context_hints":  analysis.ContextHints,
			"suggestions":    analysis.Suggestions,
		},
		Content: textContent(string(analysis.Intent)),
	}, nil
}

// --- context registry ---

func handleCreateContext(f *Facade, args map[string]any) (Response, error) {
	name := stringArg(args, "name")
	path := stringArg(args, "path")
	description := stringArg(args, "description")
	var patterns, entityTypes []string
	if raw, ok := args["patterns"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				patterns = append(patterns, s)
			}
		}
	}
	if raw, ok := args["entity_types"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				entityTypes = append(entityTypes, s)
			}
		}
	}

	ctx, err := f.reg.CreateContext(name, path, patterns, entityTypes, description)
	if err != nil {
		return Response{}, err
	}
	return Response{
		StructuredContent: map[string]any{"name": ctx.Meta.Name, "path": ctx.Meta.Path},
		Content:           textContent("context created"),
	}, nil
}

func handleDeleteContext(f *Facade, args map[string]any) (Response, error) {
	name := stringArg(args, "name")
	force := boolArg(args, "force")

	f.aggMu.Lock()
	delete(f.aggregators, name)
	f.aggMu.Unlock()

	if err := f.reg.DeleteContext(name, force); err != nil {
		return Response{}, err
	}
	return Response{
		StructuredContent: map[string]any{"deleted": name},
		Content:           textContent("context deleted"),
	}, nil
}

func handleSetContext(f *Facade, args map[string]any) (Response, error) {
	name := stringArg(args, "name")
	if err := f.reg.SetContext(name); err != nil {
		return Response{}, err
	}
	return Response{
		StructuredContent: map[string]any{"current": name},
		Content:           textContent("current context set"),
	}, nil
}

func handleGetCurrentContext(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.reg.GetCurrent()
	if err != nil {
		return Response{}, err
	}
	return Response{
		StructuredContent: map[string]any{"name": ctx.Meta.Name},
		Content:           textContent(ctx.Meta.Name),
	}, nil
}

func handleListContexts(f *Facade, args map[string]any) (Response, error) {
	contexts := f.reg.List()
	names := make([]string, len(contexts))
	for i, c := range contexts {
		names[i] = c.Meta.Name
	}
	return Response{
		StructuredContent: map[string]any{"contexts": names},
		Content:           textContent("contexts listed"),
	}, nil
}

// --- export/import ---

func handleExportMemory(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	entities, relations, err := ctx.Store.ReadGraph(0, 0)
	if err != nil {
		return Response{}, err
	}

	src := codec.SourceContext{
		Name:        ctx.Meta.Name,
		Entities:    entities,
		Relations:   relations,
		Patterns:    ctx.Meta.Patterns,
		EntityTypes: ctx.Meta.EntityTypes,
		Description: ctx.Meta.Description,
	}

	opts := codec.Options{
		IncludeMetadata:  boolArg(args, "include_metadata"),
		EntityTypeFilter: stringArg(args, "entity_type_filter"),
		Format:           codec.OutputFormat(stringArg(args, "format")),
	}
	exp := codec.BuildExport([]codec.SourceContext{src}, opts)
	data, err := codec.Encode(exp, time.Now(), opts)
	if err != nil {
		return Response{}, err
	}
	// Encode stamps the checksum on its own copy; read it back from the
	// encoded payload.
	encoded, err := codec.Decode(data, opts.Format)
	if err != nil {
		return Response{}, err
	}

	return Response{
		StructuredContent: map[string]any{
			"data":     string(data),
			"metadata": exp.Metadata,
			"checksum": encoded.Checksum,
		},
		Content: textContent("export complete"),
	}, nil
}

func handleImportMemory(f *Facade, args map[string]any) (Response, error) {
	ctx, err := f.resolveContext(args)
	if err != nil {
		return Response{}, err
	}
	data := stringArg(args, "data")
	format := codec.OutputFormat(stringArg(args, "format"))

	exp, err := codec.Decode([]byte(data), format)
	if err != nil {
		return Response{}, err
	}

	opts := codec.ImportOptions{
		Mode:                 codec.Mode(stringArg(args, "mode")),
		Conflict:             codec.ConflictResolution(stringArg(args, "conflict")),
		DryRun:               boolArg(args, "dry_run"),
		ValidateBeforeImport: boolArg(args, "validate_before_import"),
		BatchSize:            intArg(args, "batch_size", 0),
	}

	if opts.ValidateBeforeImport {
		if err := codec.Validate(exp); err != nil {
			return Response{}, err
		}
	}

	existing, err := codec.ExistingByNormalizedName(ctx.Store)
	if err != nil {
		return Response{}, err
	}

	sourceName := stringArg(args, "source_context")
	if sourceName == "" {
		sourceName = ctx.Meta.Name
	}
	ctxExport, ok := exp.Contexts[sourceName]
	if !ok {
		return Response{}, memerr.New(memerr.KindInvalidBackupFormat, "export has no context named").
			WithContext(map[string]any{"context": sourceName})
	}

	plan := codec.BuildPlan(ctxExport, existing, opts)
	summary, err := codec.ApplyPlan(ctx.Store, plan, opts)
	if err != nil {
		return Response{}, err
	}
	search.InvalidateOnWrite(ctx)

	return Response{
		StructuredContent: map[string]any{"summary": summary},
		Content:           textContent("import complete"),
	}, nil
}

// --- resilience admin ---

func handleRollbackTransaction(f *Facade, args map[string]any) (Response, error) {
	if f.resil == nil {
		return Response{}, memerr.New(memerr.KindNoActiveTransaction, "no resilience layer configured for this server")
	}
	id := stringArg(args, "transaction_id")
	if err := f.resil.Log().Rollback(id); err != nil {
		return Response{}, err
	}
	return Response{
		StructuredContent: map[string]any{"transaction_id": id, "status": "rolled_back"},
		Content:           textContent("transaction rolled back"),
	}, nil
}
