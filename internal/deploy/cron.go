package deploy

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/openjustice/pipeconf/internal/manifest"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "pipeconf"
	pipelineLabel  = "pipeconf/pipeline"
)

// NewKubernetesClient creates a clientset from the given kubeconfig path,
// or from the in-cluster configuration if the path is empty.
func NewKubernetesClient(kubeconfigPath string) (kubernetes.Interface, error) {
	var cfg *rest.Config
	var err error
	if kubeconfigPath != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("cannot build Kubernetes client configuration: %w", err)
	}
	return kubernetes.NewForConfig(cfg)
}

// CronDeployer installs the scheduled calculation jobs of a pipeline
// manifest as Kubernetes CronJobs.
type CronDeployer struct {
	client    kubernetes.Interface
	namespace string
	schedule  string
}

func NewCronDeployer(client kubernetes.Interface, namespace, schedule string) *CronDeployer {
	return &CronDeployer{
		client:    client,
		namespace: namespace,
		schedule:  schedule,
	}
}

// resourceName converts a manifest job name into a valid Kubernetes
// resource name (job names use snake_case, resource names must be DNS-1123).
func resourceName(jobName string) (string, error) {
	name := strings.ReplaceAll(strings.ToLower(jobName), "_", "-")
	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return "", fmt.Errorf("job name %q yields invalid resource name %q: %s",
			jobName, name, strings.Join(errs, "; "))
	}
	return name, nil
}

// jobArgs builds the container arguments carrying the dataset bindings.
func jobArgs(p *manifest.Pipeline) []string {
	args := []string{
		"--pipeline=" + p.Pipeline,
		"--job_name=" + p.JobName,
		"--input=" + p.Input,
	}
	if p.ReferenceInput != "" {
		args = append(args, "--reference_input="+p.ReferenceInput)
	}
	args = append(args, "--output="+p.Output)
	return args
}

func (d *CronDeployer) cronJob(p *manifest.Pipeline, name, image string) *batchv1.CronJob {
	return &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
			Labels: map[string]string{
				managedByLabel: managedByValue,
				pipelineLabel:  p.Pipeline,
			},
		},
		Spec: batchv1.CronJobSpec{
			Schedule:          d.schedule,
			ConcurrencyPolicy: batchv1.ForbidConcurrent,
			JobTemplate: batchv1.JobTemplateSpec{
				Spec: batchv1.JobSpec{
					Template: corev1.PodTemplateSpec{
						Spec: corev1.PodSpec{
							RestartPolicy: corev1.RestartPolicyNever,
							Containers: []corev1.Container{
								{
									Name:  "pipeline",
									Image: image,
									Args:  jobArgs(p),
								},
							},
						},
					},
				},
			},
		},
	}
}

// Apply creates or updates the CronJob for a single pipeline record.
func (d *CronDeployer) Apply(ctx context.Context, p *manifest.Pipeline, image string) error {
	name, err := resourceName(p.JobName)
	if err != nil {
		return err
	}
	desired := d.cronJob(p, name, image)

	jobs := d.client.BatchV1().CronJobs(d.namespace)
	_, err = jobs.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create CronJob %q: %w", name, err)
	}

	existing, err := jobs.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get existing CronJob %q: %w", name, err)
	}
	existing.Labels = desired.Labels
	existing.Spec = desired.Spec
	if _, err := jobs.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update CronJob %q: %w", name, err)
	}
	return nil
}

// ApplyAll installs CronJobs for all given pipeline records, running the
// container image of the current release.
func (d *CronDeployer) ApplyAll(ctx context.Context, pipelines []*manifest.Pipeline, image string) error {
	for _, p := range pipelines {
		log.Printf("Deploying scheduled job %s (pipeline %s)", p.JobName, p.Pipeline)
		if err := d.Apply(ctx, p, image); err != nil {
			return err
		}
	}
	return nil
}
