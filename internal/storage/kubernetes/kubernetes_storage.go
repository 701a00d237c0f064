// Package kubernetes implements storage.Store as CRD-style documents read
// and written through a dynamic.Interface, one GroupVersionResource per
// document kind (ToolConfig, ToolDeployment, DeployToken), namespaced per
// tool (spec.md §6 "Persisted state layout"). Ported in spirit from the
// teacher's internal/infrastructure/k8s client, generalized from a typed
// clientset to dynamic.Interface because these document kinds are this
// module's own CRDs, not core Kubernetes types (SPEC_FULL §2 C2).
package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/toolforge/deployctl/internal/apperrors"
	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/storage"
)

const group = "deployctl.toolforge.org"
const version = "v1"

var (
	toolConfigGVR     = schema.GroupVersionResource{Group: group, Version: version, Resource: "toolconfigs"}
	toolDeploymentGVR = schema.GroupVersionResource{Group: group, Version: version, Resource: "tooldeployments"}
	deployTokenGVR    = schema.GroupVersionResource{Group: group, Version: version, Resource: "deploytokens"}
)

// Store is a storage.Store backed by Kubernetes custom resources.
type Store struct {
	client      dynamic.Interface
	settings    storage.Settings
	tokenMirror storage.TokenEnvMirror
	metrics     *storage.Metrics
	now         func() time.Time
}

// New constructs a kubernetes-backed store. SetDeployToken and
// DeleteDeployToken call mirror (spec.md §4.2 "Token lifecycle"); the store
// itself writes no second resource kind for the mirrored token.
func New(client dynamic.Interface, settings storage.Settings, mirror storage.TokenEnvMirror, metrics *storage.Metrics) *Store {
	return &Store{client: client, settings: settings, tokenMirror: mirror, metrics: metrics, now: time.Now}
}

func namespaceForTool(tool string) string {
	return "tool-" + tool
}

func (s *Store) observe(operation string, start time.Time, err error) {
	s.metrics.Observe("kubernetes", operation, start, err)
}

func configName(tool string) string { return tool + "-config" }

func (s *Store) GetToolConfig(ctx context.Context, tool string) (model.ToolConfig, error) {
	start := s.now()
	obj, err := s.client.Resource(toolConfigGVR).Namespace(namespaceForTool(tool)).Get(ctx, configName(tool), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		notFound := &apperrors.NotFound{Kind: "ToolConfig", ID: tool}
		s.observe("GetToolConfig", start, notFound)
		return model.ToolConfig{}, notFound
	}
	if err != nil {
		s.observe("GetToolConfig", start, err)
		return model.ToolConfig{}, fmt.Errorf("kubernetes: get ToolConfig: %w", err)
	}
	var cfg model.ToolConfig
	if err := specInto(obj, &cfg); err != nil {
		s.observe("GetToolConfig", start, err)
		return model.ToolConfig{}, err
	}
	s.observe("GetToolConfig", start, nil)
	return cfg, nil
}

func (s *Store) SetToolConfig(ctx context.Context, tool string, cfg model.ToolConfig) error {
	start := s.now()
	ns := namespaceForTool(tool)
	obj, err := objectFromSpec("ToolConfig", configName(tool), ns, cfg)
	if err != nil {
		s.observe("SetToolConfig", start, err)
		return err
	}

	existing, getErr := s.client.Resource(toolConfigGVR).Namespace(ns).Get(ctx, configName(tool), metav1.GetOptions{})
	if getErr == nil {
		obj.SetResourceVersion(existing.GetResourceVersion())
		_, err = s.client.Resource(toolConfigGVR).Namespace(ns).Update(ctx, obj, metav1.UpdateOptions{})
	} else {
		_, err = s.client.Resource(toolConfigGVR).Namespace(ns).Create(ctx, obj, metav1.CreateOptions{})
	}
	s.observe("SetToolConfig", start, err)
	return err
}

func (s *Store) DeleteToolConfig(ctx context.Context, tool string) (model.ToolConfig, error) {
	start := s.now()
	cfg, err := s.GetToolConfig(ctx, tool)
	if err != nil {
		s.observe("DeleteToolConfig", start, err)
		return model.ToolConfig{}, err
	}
	err = s.client.Resource(toolConfigGVR).Namespace(namespaceForTool(tool)).Delete(ctx, configName(tool), metav1.DeleteOptions{})
	s.observe("DeleteToolConfig", start, err)
	return cfg, err
}

func (s *Store) CreateDeployment(ctx context.Context, tool string, d model.Deployment) error {
	start := s.now()
	ns := namespaceForTool(tool)
	obj, err := objectFromSpec("ToolDeployment", d.DeployID, ns, d)
	if err != nil {
		s.observe("CreateDeployment", start, err)
		return err
	}
	_, err = s.client.Resource(toolDeploymentGVR).Namespace(ns).Create(ctx, obj, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		err = &apperrors.AlreadyExists{Kind: "Deployment", ID: d.DeployID}
	}
	s.observe("CreateDeployment", start, err)
	if err == nil {
		s.applyRetention(ctx, tool)
	}
	return err
}

func (s *Store) GetDeployment(ctx context.Context, tool, id string) (model.Deployment, error) {
	start := s.now()
	s.sweep(ctx, tool)
	obj, err := s.client.Resource(toolDeploymentGVR).Namespace(namespaceForTool(tool)).Get(ctx, id, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		notFound := &apperrors.NotFound{Kind: "Deployment", ID: id}
		s.observe("GetDeployment", start, notFound)
		return model.Deployment{}, notFound
	}
	if err != nil {
		s.observe("GetDeployment", start, err)
		return model.Deployment{}, fmt.Errorf("kubernetes: get Deployment: %w", err)
	}
	var d model.Deployment
	if err := specInto(obj, &d); err != nil {
		s.observe("GetDeployment", start, err)
		return model.Deployment{}, err
	}
	s.observe("GetDeployment", start, nil)
	return d, nil
}

func (s *Store) ListDeployments(ctx context.Context, tool string) ([]model.Deployment, error) {
	start := s.now()
	s.sweep(ctx, tool)
	list, err := s.client.Resource(toolDeploymentGVR).Namespace(namespaceForTool(tool)).List(ctx, metav1.ListOptions{})
	if err != nil {
		s.observe("ListDeployments", start, err)
		return nil, fmt.Errorf("kubernetes: list Deployments: %w", err)
	}
	out := make([]model.Deployment, 0, len(list.Items))
	for _, item := range list.Items {
		var d model.Deployment
		if err := specInto(&item, &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	s.observe("ListDeployments", start, nil)
	return out, nil
}

// UpdateDeployment uses the document's resourceVersion as an optimistic
// concurrency token. If the stored object has already been swept to
// timed_out and this write is not itself a timed_out write, the update is
// refused with ErrLostLeader (SPEC_FULL §4 Open Question 3).
func (s *Store) UpdateDeployment(ctx context.Context, tool string, d model.Deployment) error {
	start := s.now()
	ns := namespaceForTool(tool)

	existingObj, err := s.client.Resource(toolDeploymentGVR).Namespace(ns).Get(ctx, d.DeployID, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			createErr := s.CreateDeployment(ctx, tool, d)
			s.observe("UpdateDeployment", start, createErr)
			return createErr
		}
		s.observe("UpdateDeployment", start, err)
		return fmt.Errorf("kubernetes: get Deployment for update: %w", err)
	}

	var existing model.Deployment
	if err := specInto(existingObj, &existing); err == nil {
		if existing.Status == model.StatusTimedOut && d.Status != model.StatusTimedOut {
			s.observe("UpdateDeployment", start, apperrors.ErrLostLeader)
			return apperrors.ErrLostLeader
		}
		d.DeployID = existing.DeployID
		d.CreationTime = existing.CreationTime
		d.ToolConfig = existing.ToolConfig
	}

	obj, err := objectFromSpec("ToolDeployment", d.DeployID, ns, d)
	if err != nil {
		s.observe("UpdateDeployment", start, err)
		return err
	}
	obj.SetResourceVersion(existingObj.GetResourceVersion())
	_, err = s.client.Resource(toolDeploymentGVR).Namespace(ns).Update(ctx, obj, metav1.UpdateOptions{})
	if apierrors.IsConflict(err) {
		err = apperrors.ErrLostLeader
	}
	s.observe("UpdateDeployment", start, err)
	return err
}

func (s *Store) DeleteDeployment(ctx context.Context, tool, id string) (model.Deployment, error) {
	start := s.now()
	d, err := s.GetDeployment(ctx, tool, id)
	if err != nil {
		s.observe("DeleteDeployment", start, err)
		return model.Deployment{}, err
	}
	err = s.client.Resource(toolDeploymentGVR).Namespace(namespaceForTool(tool)).Delete(ctx, id, metav1.DeleteOptions{})
	s.observe("DeleteDeployment", start, err)
	return d, err
}

func (s *Store) GetDeployToken(ctx context.Context, tool string) (model.DeployToken, error) {
	start := s.now()
	obj, err := s.client.Resource(deployTokenGVR).Namespace(namespaceForTool(tool)).Get(ctx, tool, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		notFound := &apperrors.NotFound{Kind: "DeployToken", ID: tool}
		s.observe("GetDeployToken", start, notFound)
		return model.DeployToken{}, notFound
	}
	if err != nil {
		s.observe("GetDeployToken", start, err)
		return model.DeployToken{}, fmt.Errorf("kubernetes: get DeployToken: %w", err)
	}
	var tok model.DeployToken
	if err := specInto(obj, &tok); err != nil {
		s.observe("GetDeployToken", start, err)
		return model.DeployToken{}, err
	}
	s.observe("GetDeployToken", start, nil)
	return tok, nil
}

func (s *Store) SetDeployToken(ctx context.Context, tool string, token model.DeployToken) error {
	start := s.now()
	ns := namespaceForTool(tool)
	obj, err := objectFromSpec("DeployToken", tool, ns, token)
	if err != nil {
		s.observe("SetDeployToken", start, err)
		return err
	}
	existing, getErr := s.client.Resource(deployTokenGVR).Namespace(ns).Get(ctx, tool, metav1.GetOptions{})
	if getErr == nil {
		obj.SetResourceVersion(existing.GetResourceVersion())
		_, err = s.client.Resource(deployTokenGVR).Namespace(ns).Update(ctx, obj, metav1.UpdateOptions{})
	} else {
		_, err = s.client.Resource(deployTokenGVR).Namespace(ns).Create(ctx, obj, metav1.CreateOptions{})
	}
	if err != nil {
		s.observe("SetDeployToken", start, err)
		return err
	}
	err = s.tokenMirror.Mirror(ctx, tool, token)
	s.observe("SetDeployToken", start, err)
	return err
}

func (s *Store) DeleteDeployToken(ctx context.Context, tool string) (model.DeployToken, error) {
	start := s.now()
	tok, err := s.GetDeployToken(ctx, tool)
	if err != nil {
		s.observe("DeleteDeployToken", start, err)
		return model.DeployToken{}, err
	}
	if err := s.client.Resource(deployTokenGVR).Namespace(namespaceForTool(tool)).Delete(ctx, tool, metav1.DeleteOptions{}); err != nil {
		s.observe("DeleteDeployToken", start, err)
		return model.DeployToken{}, err
	}
	err = s.tokenMirror.Unmirror(ctx, tool)
	s.observe("DeleteDeployToken", start, err)
	return tok, err
}

func (s *Store) sweep(ctx context.Context, tool string) {
	list, err := s.client.Resource(toolDeploymentGVR).Namespace(namespaceForTool(tool)).List(ctx, metav1.ListOptions{})
	if err != nil || len(list.Items) == 0 {
		return
	}
	deployments := make([]model.Deployment, 0, len(list.Items))
	for _, item := range list.Items {
		var d model.Deployment
		if specInto(&item, &d) == nil {
			deployments = append(deployments, d)
		}
	}
	swept := storage.SweepTimeouts(s.now(), deployments, s.settings)
	for i, d := range swept {
		if d.Status == deployments[i].Status {
			continue
		}
		obj, err := objectFromSpec("ToolDeployment", d.DeployID, namespaceForTool(tool), d)
		if err != nil {
			continue
		}
		obj.SetResourceVersion(list.Items[i].GetResourceVersion())
		_, _ = s.client.Resource(toolDeploymentGVR).Namespace(namespaceForTool(tool)).Update(ctx, obj, metav1.UpdateOptions{})
	}
}

func (s *Store) applyRetention(ctx context.Context, tool string) {
	deployments, err := s.ListDeployments(ctx, tool)
	if err != nil {
		return
	}
	for _, id := range storage.SelectRetentionDeletions(deployments, s.settings) {
		_ = s.client.Resource(toolDeploymentGVR).Namespace(namespaceForTool(tool)).Delete(ctx, id, metav1.DeleteOptions{})
	}
}

// objectFromSpec builds the unstructured document for a kind, with spec set
// to the JSON-serialized value.
func objectFromSpec(kind, name, namespace string, v any) (*unstructured.Unstructured, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: marshalling %s: %w", kind, err)
	}
	var spec map[string]any
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("kubernetes: unmarshalling %s spec: %w", kind, err)
	}
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": group + "/" + version,
		"kind":       kind,
		"metadata": map[string]any{
			"name":      name,
			"namespace": namespace,
		},
		"spec": spec,
	}}, nil
}

// specInto decodes an unstructured document's spec field into a typed
// value via its JSON tags.
func specInto(obj *unstructured.Unstructured, into any) error {
	spec, found, err := unstructured.NestedMap(obj.Object, "spec")
	if err != nil || !found {
		return fmt.Errorf("kubernetes: missing spec on %s/%s", obj.GetKind(), obj.GetName())
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}
