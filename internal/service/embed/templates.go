package embed

import "text/template"

var funcs = template.FuncMap{
	"jsstr":  jsString,
	"jsbool": jsBool,
}

// widgetBody is shared by the script and wordpress artifacts. It carries no
// HTML comments so it nests inside CMS templates unchanged.
const widgetBody = `{{define "body"}}<div id="troika-chatbot-{{.ProjectID}}"></div>
<script>
  (function() {
    var config = {
      projectId: {{jsstr .ProjectID}},
      apiBaseUrl: {{jsstr .BaseURL}},
      theme: {{jsstr .Config.Theme}},
      position: {{jsstr .Config.Position}},
      primaryColor: {{jsstr .Config.PrimaryColor}},
      welcomeMessage: {{jsstr .Config.WelcomeMessage}},
      placeholder: {{jsstr .Config.Placeholder}},
      height: {{jsstr .Config.Height}},
      width: {{jsstr .Config.Width}},
      showBranding: {{jsbool .Config.ShowBranding}},
      enableSound: {{jsbool .Config.EnableSound}},
      autoOpen: {{jsbool .Config.AutoOpen}},
      triggerDelay: {{.Config.TriggerDelayMs}}
    };

    var script = document.createElement('script');
    script.src = {{jsstr .ScriptURL}};
    script.async = true;
    script.onload = function() {
      if (window.TroikaChatbot && typeof window.TroikaChatbot.init === 'function') {
        window.TroikaChatbot.init(config);
      } else {
        console.error('Troika chatbot: widget script loaded without an init entry point');
      }
    };
    script.onerror = function() {
      console.error('Troika chatbot: failed to load widget script from ' + script.src);
    };
    document.head.appendChild(script);

    var link = document.createElement('link');
    link.rel = 'stylesheet';
    link.href = {{jsstr .StyleURL}};
    link.onerror = function() {
      console.warn('Troika chatbot: failed to load widget stylesheet from ' + link.href);
    };
    document.head.appendChild(link);
  })();
</script>
<style>
  #troika-chatbot-{{.ProjectID}} {
    --primary-color: {{.Config.PrimaryColor}};
    --widget-height: {{.Config.Height}};
    --widget-width: {{.Config.Width}};
  }
</style>{{end}}`

var scriptTemplate = template.Must(template.New("script").Funcs(funcs).Parse(widgetBody + `<!-- Troika Tech Chatbot Widget -->
{{template "body" .}}
<!-- End Troika Tech Chatbot Widget -->
`))

var wordpressTemplate = template.Must(template.New("wordpress").Funcs(funcs).Parse(widgetBody + `<?php
/**
 * Troika Tech Chatbot Widget for project {{.ProjectID}}.
 * Add to the active theme's functions.php or a site-specific plugin.
 */
function troika_chatbot_widget_{{.PHPIdent}}() {
    ?>
{{template "body" .}}
    <?php
}
add_action('wp_footer', 'troika_chatbot_widget_{{.PHPIdent}}');
`))
