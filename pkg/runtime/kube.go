package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilexec "k8s.io/client-go/util/exec"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

const (
	kubeAppLabel      = "vnc-session"
	kubeContainerName = "vnc"
)

// KubeRuntime implements ContainerRuntime on a Kubernetes cluster. An
// instance is one Pod plus one NodePort Service named "<pod>-svc" that
// publishes the noVNC port.
type KubeRuntime struct {
	Log       *logrus.Entry
	restCfg   *rest.Config
	clientset kubernetes.Interface
	namespace string
}

// NewKubeRuntime builds a runtime from in-cluster config, falling back to
// KUBECONFIG for local development.
func NewKubeRuntime(log *logrus.Entry, namespace string) (*KubeRuntime, error) {
	restCfg, err := buildRESTConfig()
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "k8s config")
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "kubernetes clientset")
	}
	return &KubeRuntime{
		Log:       log,
		restCfg:   restCfg,
		clientset: clientset,
		namespace: namespace,
	}, nil
}

func buildRESTConfig() (*rest.Config, error) {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		return cfg, nil
	}
	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		kubeconfig = filepath.Join(os.Getenv("HOME"), ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// Mode returns "kubernetes".
func (r *KubeRuntime) Mode() string {
	return "kubernetes"
}

// Close is a no-op; the clientset holds no persistent connection.
func (r *KubeRuntime) Close() error {
	return nil
}

// Create provisions a Pod and a NodePort Service. A NodePort collision
// surfaces as PortInUse, an existing pod name as NameInUse. The partial pod
// is left behind on Service failure; the caller's compensating Destroy(name)
// removes both halves.
func (r *KubeRuntime) Create(ctx context.Context, opts CreateOptions) (*Instance, error) {
	labels := map[string]string{"app": kubeAppLabel}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   opts.Name,
			Labels: labels,
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:    kubeContainerName,
				Image:   opts.Image,
				Command: opts.Cmd,
				Ports:   []corev1.ContainerPort{{ContainerPort: int32(opts.InternalPort)}},
				Env: lo.MapToSlice(opts.Env, func(k, v string) corev1.EnvVar {
					return corev1.EnvVar{Name: k, Value: v}
				}),
			}},
		},
	}

	created, err := r.clientset.CoreV1().Pods(r.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, classifyKubeError(err)
	}

	selector := map[string]string{"app": kubeAppLabel}
	if instance, ok := labels["instance"]; ok {
		selector["instance"] = instance
	}
	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   serviceName(opts.Name),
			Labels: labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeNodePort,
			Selector: selector,
			Ports: []corev1.ServicePort{{
				Name:       "novnc",
				Port:       int32(opts.InternalPort),
				TargetPort: intstr.FromInt(opts.InternalPort),
				NodePort:   int32(opts.ExternalPort),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}

	if _, err := r.clientset.CoreV1().Services(r.namespace).Create(ctx, service, metav1.CreateOptions{}); err != nil {
		return nil, classifyKubeError(err)
	}

	return &Instance{
		ID:           created.Name,
		Name:         created.Name,
		Image:        opts.Image,
		Status:       string(created.Status.Phase),
		ExternalPort: opts.ExternalPort,
		Labels:       labels,
	}, nil
}

// Destroy deletes the Service and the Pod, best-effort each; a missing
// object counts as success.
func (r *KubeRuntime) Destroy(ctx context.Context, id string) error {
	err := r.clientset.CoreV1().Services(r.namespace).Delete(ctx, serviceName(id), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		r.Log.WithError(err).WithField("service", serviceName(id)).Warn("deleting instance service")
	}

	err = r.clientset.CoreV1().Pods(r.namespace).Delete(ctx, id, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return errs.Wrap(errs.KindInternal, err, "deleting instance pod")
	}
	return nil
}

// Lookup resolves a pod name or unique name prefix.
func (r *KubeRuntime) Lookup(ctx context.Context, idOrPrefix string) (*Instance, error) {
	pod, err := r.clientset.CoreV1().Pods(r.namespace).Get(ctx, idOrPrefix, metav1.GetOptions{})
	if err == nil {
		return r.toInstance(ctx, pod), nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, errs.Wrap(errs.KindInternal, err, "getting pod")
	}

	list, err := r.clientset.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + kubeAppLabel,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "listing pods")
	}
	matches := lo.Filter(list.Items, func(p corev1.Pod, _ int) bool {
		return strings.HasPrefix(p.Name, idOrPrefix)
	})
	switch len(matches) {
	case 0:
		return nil, errs.New(errs.KindNotFound, "no pod matches %q", idOrPrefix)
	case 1:
		return r.toInstance(ctx, &matches[0]), nil
	default:
		return nil, errs.New(errs.KindAmbiguous, "%q matches %d pods", idOrPrefix, len(matches))
	}
}

// List returns all session pods in the namespace.
func (r *KubeRuntime) List(ctx context.Context) ([]*Instance, error) {
	list, err := r.clientset.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + kubeAppLabel,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "listing pods")
	}
	instances := make([]*Instance, 0, len(list.Items))
	for i := range list.Items {
		instances = append(instances, r.toInstance(ctx, &list.Items[i]))
	}
	return instances, nil
}

// Exec runs argv in the instance's container and waits for completion.
func (r *KubeRuntime) Exec(ctx context.Context, id string, argv []string) (*ExecResult, error) {
	var stdout, stderr bytes.Buffer
	err := r.stream(ctx, id, argv, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	}, false, false)

	result := &ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var codeErr utilexec.CodeExitError
		if stderrors.As(err, &codeErr) {
			result.ExitCode = codeErr.Code
			return result, nil
		}
		return nil, errs.Wrap(errs.KindInternal, err, "pod exec")
	}
	return result, nil
}

// Attach starts argv with a TTY and returns a PTY bridged over SPDY pipes.
func (r *KubeRuntime) Attach(ctx context.Context, id string, argv []string) (PTY, error) {
	exec, err := r.executor(id, argv, true, true)
	if err != nil {
		return nil, err
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	// the stream outlives the attach request; the PTY's Close tears it down
	go func() {
		streamErr := exec.StreamWithContext(context.Background(), remotecommand.StreamOptions{
			Stdin:  stdinR,
			Stdout: stdoutW,
			Tty:    true,
		})
		if streamErr != nil {
			stdoutW.CloseWithError(streamErr)
		} else {
			stdoutW.Close()
		}
		stdinR.Close()
	}()

	return &pipePTY{out: stdoutR, in: stdinW}, nil
}

// Upload pipes a tar archive into `tar -xf -` rooted at destPath.
func (r *KubeRuntime) Upload(ctx context.Context, id string, destPath string, archive io.Reader) error {
	var stderr bytes.Buffer
	err := r.stream(ctx, id, []string{"tar", "-xf", "-", "-C", destPath}, remotecommand.StreamOptions{
		Stdin:  archive,
		Stderr: &stderr,
	}, false, true)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, fmt.Sprintf("extracting archive: %s", stderr.String()))
	}
	return nil
}

func (r *KubeRuntime) stream(ctx context.Context, id string, argv []string, opts remotecommand.StreamOptions, tty, stdin bool) error {
	exec, err := r.executor(id, argv, tty, stdin)
	if err != nil {
		return err
	}
	return exec.StreamWithContext(ctx, opts)
}

func (r *KubeRuntime) executor(id string, argv []string, tty, stdin bool) (remotecommand.Executor, error) {
	req := r.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(id).
		Namespace(r.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: kubeContainerName,
			Command:   argv,
			Stdin:     stdin,
			Stdout:    true,
			Stderr:    !tty,
			TTY:       tty,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(r.restCfg, "POST", req.URL())
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "building pod executor")
	}
	return exec, nil
}

func (r *KubeRuntime) toInstance(ctx context.Context, pod *corev1.Pod) *Instance {
	inst := &Instance{
		ID:     pod.Name,
		Name:   pod.Name,
		Status: string(pod.Status.Phase),
		Labels: pod.Labels,
	}
	if len(pod.Spec.Containers) > 0 {
		inst.Image = pod.Spec.Containers[0].Image
	}

	svc, err := r.clientset.CoreV1().Services(r.namespace).Get(ctx, serviceName(pod.Name), metav1.GetOptions{})
	if err == nil && len(svc.Spec.Ports) > 0 {
		inst.ExternalPort = int(svc.Spec.Ports[0].NodePort)
	}
	return inst
}

func serviceName(podName string) string {
	return podName + "-svc"
}

func classifyKubeError(err error) error {
	switch {
	case err == nil:
		return nil
	case looksLikePortInUse(err):
		return errs.Wrap(errs.KindPortInUse, err, "node port already allocated")
	case apierrors.IsAlreadyExists(err):
		return errs.Wrap(errs.KindNameInUse, err, "pod name already in use")
	case apierrors.IsNotFound(err):
		return errs.Wrap(errs.KindNotFound, err, "pod not found")
	default:
		return errs.Wrap(errs.KindInternal, err, "kubernetes API error")
	}
}

// pipePTY adapts the SPDY stream pipes to the PTY interface.
type pipePTY struct {
	out *io.PipeReader
	in  *io.PipeWriter
}

func (p *pipePTY) Read(buf []byte) (int, error) {
	return p.out.Read(buf)
}

func (p *pipePTY) Write(buf []byte) (int, error) {
	return p.in.Write(buf)
}

func (p *pipePTY) Close() error {
	p.in.Close()
	p.out.Close()
	return nil
}
