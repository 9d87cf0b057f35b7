package cloudvm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/organizations"

	"github.com/jross/cumin-go/internal/backend"
)

// projectTag is the EC2 instance tag this provider treats as the
// project/tenant grouping §4.6 calls "project" — AWS has no native tenant
// concept below the account, so a tag stands in for it, matching how the
// rest of the pack's AWS-backed components (long-term-archives' S3
// exporter) key resources by a tag rather than an account boundary.
const projectTag = "cumin:project"

// AWSProvider implements API against a single AWS account's EC2 fleet,
// using AWS Organizations to enumerate "projects" (member accounts) when a
// query does not name one explicitly.
type AWSProvider struct {
	ec2  *ec2.EC2
	orgs *organizations.Organizations
}

// NewAWSProvider builds an AWSProvider from the ambient AWS credential
// chain (environment, shared config, or instance role), per the standard
// aws-sdk-go session defaults.
func NewAWSProvider(cfg backend.Config) (*AWSProvider, error) {
	sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		return nil, fmt.Errorf("cloudvm: failed to create AWS session: %w", err)
	}
	return &AWSProvider{ec2: ec2.New(sess), orgs: organizations.New(sess)}, nil
}

// ListProjects returns every active account in the organization.
func (p *AWSProvider) ListProjects(ctx context.Context) ([]string, error) {
	var projects []string
	err := p.orgs.ListAccountsPagesWithContext(ctx, &organizations.ListAccountsInput{},
		func(page *organizations.ListAccountsOutput, lastPage bool) bool {
			for _, acct := range page.Accounts {
				if acct.Status != nil && *acct.Status == organizations.AccountStatusActive && acct.Name != nil {
					projects = append(projects, *acct.Name)
				}
			}
			return true
		})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// ListServers returns EC2 instances tagged with project, whose "status"
// filter (if present) is mapped to EC2's instance-state-name filter and
// whose "vm_state" filter is otherwise treated as an additional tag match.
func (p *AWSProvider) ListServers(ctx context.Context, project string, filters map[string]string) ([]Server, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{Name: aws.String("tag:" + projectTag), Values: []*string{aws.String(project)}},
		},
	}
	for key, val := range filters {
		switch key {
		case "status":
			input.Filters = append(input.Filters, &ec2.Filter{
				Name:   aws.String("instance-state-name"),
				Values: []*string{aws.String(ec2StateForStatus(val))},
			})
		case "vm_state":
			// No first-class EC2 equivalent; fold into the generic tag match.
			input.Filters = append(input.Filters, &ec2.Filter{
				Name:   aws.String("tag:vm_state"),
				Values: []*string{aws.String(val)},
			})
		default:
			input.Filters = append(input.Filters, &ec2.Filter{
				Name:   aws.String("tag:" + key),
				Values: []*string{aws.String(val)},
			})
		}
	}

	var servers []Server
	err := p.ec2.DescribeInstancesPagesWithContext(ctx, input,
		func(page *ec2.DescribeInstancesOutput, lastPage bool) bool {
			for _, res := range page.Reservations {
				for _, inst := range res.Instances {
					name := instanceName(inst)
					if name == "" {
						continue
					}
					status := ""
					if inst.State != nil && inst.State.Name != nil {
						status = *inst.State.Name
					}
					servers = append(servers, Server{Name: name, Status: status})
				}
			}
			return true
		})
	if err != nil {
		return nil, err
	}
	return servers, nil
}

// ec2StateForStatus maps the DSL's cloud-neutral "ACTIVE" status onto EC2's
// "running" instance state; any other value passes through unchanged so an
// operator can still filter on a raw EC2 state name.
func ec2StateForStatus(status string) string {
	if status == "ACTIVE" {
		return "running"
	}
	return status
}

// instanceName reads the conventional "Name" tag off an EC2 instance.
func instanceName(inst *ec2.Instance) string {
	for _, tag := range inst.Tags {
		if tag.Key != nil && *tag.Key == "Name" && tag.Value != nil {
			return *tag.Value
		}
	}
	return ""
}
