//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/arbor/batch"
	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/hierarchy"
	"github.com/jacentio/arbor/store"
)

// Test configuration
const (
	awsProfile = "jacent-alpha-cp"

	// Table names - unique per test run to avoid conflicts
	tablePrefix = "arbor-e2e-test"
)

var (
	testID      string
	entityTable string
	treeTable   string

	ddbClient *dynamodb.Client
	testStore *store.Store
)

func taskSchema() *entity.Schema {
	return &entity.Schema{
		Name:     "task",
		IDPrefix: "TASK",
		Attributes: []entity.Attribute{
			{Name: "title", Required: true},
			{Name: "status", Default: "todo"},
		},
		AlternateKey: func(props map[string]any) string {
			ak, _ := props["nodeId"].(string)
			return ak
		},
	}
}

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	entityTable = fmt.Sprintf("%s-%s-entities", tablePrefix, testID)
	treeTable = fmt.Sprintf("%s-%s-tree", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Tables:\n")
	fmt.Printf("  - Entities: %s\n", entityTable)
	fmt.Printf("  - Tree: %s\n", treeTable)

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(awsProfile),
	)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}

	ddbClient = dynamodb.NewFromConfig(cfg)

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	testStore = store.New(ddbClient, store.Config{
		Table:     entityTable,
		TreeTable: treeTable,
	}, nil)

	code := m.Run()

	if err := deleteTables(ctx); err != nil {
		fmt.Printf("Failed to delete tables: %v\n", err)
	}

	os.Exit(code)
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")

	// Entity table (workspaceId, entityId) with the alternate-key index
	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(entityTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("workspaceId"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("entityId"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("workspaceId"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("entityId"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("ak"), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String("ak-index"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("ak"), KeyType: types.KeyTypeHash},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create entity table: %w", err)
	}

	// Tree table (entityId) with the (tree, path) index
	_, err = ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(treeTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("entityId"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("entityId"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("tree"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("path"), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String("tree-path-index"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("tree"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("path"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create tree table: %w", err)
	}

	for _, tableName := range []string{entityTable, treeTable} {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", tableName, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) error {
	fmt.Println("Deleting test tables...")

	for _, tableName := range []string{entityTable, treeTable} {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", tableName, err)
		}
	}

	fmt.Println("Tables deleted")
	return nil
}

// waitForIndex gives the GSI a moment to catch up with recent writes; the
// tree-path index is eventually consistent.
func waitForIndex() {
	time.Sleep(2 * time.Second)
}

func TestE2E_HierarchyLifecycle(t *testing.T) {
	ctx := context.Background()
	engine := hierarchy.New(testStore, taskSchema(), nil)
	workspace := "WS_" + uuid.New().String()[:8]

	root, err := engine.AddItem(ctx, hierarchy.AddRequest{
		EntityID:    "TASK_root_" + testID,
		WorkspaceID: workspace,
		UserID:      "USER_e2e",
		Properties:  map[string]any{"title": "root"},
	})
	if err != nil {
		t.Fatalf("add root: %v", err)
	}
	if root.Path != "task" {
		t.Errorf("expected root path \"task\", got %q", root.Path)
	}

	childA, err := engine.AddItem(ctx, hierarchy.AddRequest{
		WorkspaceID: workspace,
		ParentID:    root.EntityID,
		UserID:      "USER_e2e",
		Properties:  map[string]any{"title": "child a"},
	})
	if err != nil {
		t.Fatalf("add child a: %v", err)
	}

	grandchild, err := engine.AddItem(ctx, hierarchy.AddRequest{
		WorkspaceID: workspace,
		ParentID:    childA.EntityID,
		UserID:      "USER_e2e",
		Properties:  map[string]any{"title": "grandchild"},
	})
	if err != nil {
		t.Fatalf("add grandchild: %v", err)
	}

	// Duplicate identifiers are rejected atomically.
	if _, err := engine.AddItem(ctx, hierarchy.AddRequest{
		EntityID:    root.EntityID,
		WorkspaceID: workspace,
		Properties:  map[string]any{"title": "usurper"},
	}); !errors.Is(err, hierarchy.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	ancestors, err := engine.GetItemAncestors(ctx, grandchild.EntityID, false)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(ancestors) != 2 || ancestors[0].EntityID != root.EntityID || ancestors[1].EntityID != childA.EntityID {
		t.Errorf("expected root-to-parent chain, got %+v", ancestors)
	}

	waitForIndex()
	subtree, err := engine.GetItemChildren(ctx, root.EntityID, false)
	if err != nil {
		t.Fatalf("subtree: %v", err)
	}
	if len(subtree) != 2 {
		t.Errorf("expected 2 descendants, got %d", len(subtree))
	}

	// Move the grandchild directly under the root.
	if err := engine.RefactorItem(ctx, grandchild.EntityID, root.EntityID); err != nil {
		t.Fatalf("refactor: %v", err)
	}
	moved, err := engine.GetItem(ctx, grandchild.EntityID)
	if err != nil {
		t.Fatalf("get moved: %v", err)
	}
	if moved.Path != "task#"+root.EntityID {
		t.Errorf("expected rewritten path, got %q", moved.Path)
	}

	waitForIndex()
	if err := engine.DeleteItem(ctx, root.EntityID); err != nil {
		t.Fatalf("delete subtree: %v", err)
	}
	for _, id := range []string{root.EntityID, childA.EntityID, grandchild.EntityID} {
		if _, err := engine.GetItem(ctx, id); !errors.Is(err, hierarchy.ErrNotFound) {
			t.Errorf("expected %s gone, got %v", id, err)
		}
	}
}

func TestE2E_BulkMutations(t *testing.T) {
	ctx := context.Background()
	engine := batch.New(testStore, taskSchema(), nil)
	workspace := "WS_" + uuid.New().String()[:8]

	created := engine.Execute(ctx, []batch.Request{
		{Type: batch.TypeCreate, EntityID: "TASK_bulk_a", UserID: "USER_e2e", Properties: map[string]any{"title": "a"}},
		{Type: batch.TypeCreate, EntityID: "TASK_bulk_b", UserID: "USER_e2e", Properties: map[string]any{"title": "b"}},
	}, batch.Options{WorkspaceID: workspace})
	if len(created.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %+v", created.Rejected)
	}

	archived := engine.Execute(ctx, []batch.Request{
		{Type: batch.TypeDelete, EntityID: "TASK_bulk_b"},
	}, batch.Options{WorkspaceID: workspace})
	if len(archived.Fulfilled) != 1 {
		t.Fatalf("expected the delete fulfilled, got %+v", archived)
	}

	item, err := testStore.Get(ctx, entityTable, store.Item{
		"workspaceId": workspace,
		"entityId":    "TASK_bulk_b",
	})
	if err != nil {
		t.Fatalf("get archived record: %v", err)
	}
	if !entity.IsArchived(item) {
		t.Errorf("expected the record archived, got %v", item)
	}
	if item.GetInt64(entity.FieldTTL) == 0 {
		t.Error("expected an archival expiry timestamp")
	}

	// Re-creating the archived entity clears the expiry.
	revived := engine.Execute(ctx, []batch.Request{
		{Type: batch.TypeUpdate, EntityID: "TASK_bulk_b", Properties: map[string]any{"title": "b again"}},
	}, batch.Options{WorkspaceID: workspace})
	if len(revived.Fulfilled) != 1 {
		t.Fatalf("expected the revival fulfilled, got %+v", revived)
	}
	if ttl := revived.Fulfilled[0].Attributes.GetInt64(entity.FieldTTL); ttl != 0 {
		t.Errorf("expected the expiry cleared, got %d", ttl)
	}
}

func TestE2E_AlternateKeyLookup(t *testing.T) {
	ctx := context.Background()
	engine := hierarchy.New(testStore, taskSchema(), nil)
	workspace := "WS_" + uuid.New().String()[:8]

	node, err := engine.AddItem(ctx, hierarchy.AddRequest{
		WorkspaceID: workspace,
		UserID:      "USER_e2e",
		Properties:  map[string]any{"title": "linked", "nodeId": "NODE_" + testID},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	waitForIndex()
	items, err := testStore.GetByAlternateKey(ctx, workspace, "NODE_"+testID)
	if err != nil {
		t.Fatalf("alternate key lookup: %v", err)
	}
	if len(items) != 1 || items[0].GetString("entityId") != node.EntityID {
		t.Errorf("expected the created node, got %v", items)
	}
}
